package manifest

type SystemInfo struct {
	Hostname         string `yaml:"hostname"`
	OS               string `yaml:"os"`
	MongodumpVersion string `yaml:"mongodump_version"`
}

// Backup describes one backup run. It is uploaded next to the primary
// archive.
type Backup struct {
	RunID        string     `yaml:"run_id"`
	Datetime     int64      `yaml:"datetime"`
	System       SystemInfo `yaml:"system"`
	Host         string     `yaml:"host"`
	Source       string     `yaml:"source"`
	Basename     string     `yaml:"basename,omitempty"`
	Archive      string     `yaml:"archive"`
	Path         string     `yaml:"path"`
	Encrypted    bool       `yaml:"encrypted"`
	AgePublicKey string     `yaml:"age_public_key,omitempty"`
	Blake3Hash   string     `yaml:"blake3_hash"`
	Size         int64      `yaml:"size"`
	Oplog        bool       `yaml:"oplog"`
	Copies       []string   `yaml:"copies,omitempty"`
	Pruned       []string   `yaml:"pruned,omitempty"`
}

type Ref struct {
	Datetime   int64  `yaml:"datetime"`
	Archive    string `yaml:"archive"`
	Path       string `yaml:"path"`
	URI        string `yaml:"uri"`
	Blake3Hash string `yaml:"blake3_hash"`
	Size       int64  `yaml:"size"`
}

// Last is the local record of the latest successful run for a basename.
type Last struct {
	Basename string          `yaml:"basename"`
	Host     string          `yaml:"host"`
	Backup   *Ref            `yaml:"backup"`
	Slots    map[string]*Ref `yaml:"slots,omitempty"`
}
