package replica

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/juju/mgo/v3"
	"github.com/juju/mgo/v3/bson"
)

// replSetGetConfig error codes for a server without a usable set config.
const (
	codeNotYetInitialized    = 94 // started with --replSet, never initiated
	codeNoReplicationEnabled = 76 // standalone
)

type Credentials struct {
	Username     string
	Password     string
	AuthDatabase string
}

// MongoProber talks to each address directly over the MongoDB wire protocol.
type MongoProber struct {
	creds   Credentials
	timeout time.Duration
}

func NewMongoProber(creds Credentials, timeout time.Duration) *MongoProber {
	return &MongoProber{creds: creds, timeout: timeout}
}

func (m *MongoProber) dial(ctx context.Context, addr string) (*mgo.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info := &mgo.DialInfo{
		Addrs:    []string{addr},
		Direct:   true,
		Timeout:  m.timeout,
		Username: m.creds.Username,
		Password: m.creds.Password,
		Source:   m.creds.AuthDatabase,
	}
	session, err := mgo.DialWithInfo(info)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	// Secondaries only answer commands on a non-strict session.
	session.SetMode(mgo.Monotonic, true)
	return session, nil
}

func (m *MongoProber) Members(ctx context.Context, addr string) ([]string, error) {
	session, err := m.dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	var result struct {
		Config struct {
			Members []struct {
				Host string `bson:"host"`
			} `bson:"members"`
		} `bson:"config"`
	}
	if err := session.Run(bson.D{{Name: "replSetGetConfig", Value: 1}}, &result); err != nil {
		if isNoReplication(err) {
			return nil, ErrNotReplicaSet
		}
		return nil, err
	}

	members := make([]string, 0, len(result.Config.Members))
	for _, member := range result.Config.Members {
		members = append(members, member.Host)
	}
	return members, nil
}

func (m *MongoProber) IsSecondary(ctx context.Context, addr string) (bool, error) {
	session, err := m.dial(ctx, addr)
	if err != nil {
		return false, err
	}
	defer session.Close()

	var result struct {
		Secondary bool `bson:"secondary"`
	}
	if err := session.Run("isMaster", &result); err != nil {
		return false, err
	}
	return result.Secondary, nil
}

func (m *MongoProber) Ping(ctx context.Context, addr string) error {
	session, err := m.dial(ctx, addr)
	if err != nil {
		return err
	}
	defer session.Close()

	return session.Ping()
}

func isNoReplication(err error) bool {
	var qerr *mgo.QueryError
	if errors.As(err, &qerr) {
		switch qerr.Code {
		case codeNoReplicationEnabled, codeNotYetInitialized:
			return true
		}
	}
	msg := err.Error()
	return strings.Contains(msg, "not running with --replSet") ||
		strings.Contains(msg, "no replset config has been received")
}
