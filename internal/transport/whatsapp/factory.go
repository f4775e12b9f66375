// Package whatsapp implements the transport contract on top of whatsmeow.
//
// Each session id owns its own credential store directory (one SQLite file
// per session), so purging a session cannot touch another session's
// credentials.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"wasend/internal/transport"
	"wasend/pkg/logx"
)

type Config struct {
	// StorePath is the root directory for per-session credential stores.
	StorePath string
	// DeviceName is shown on the paired phone's linked-devices list.
	DeviceName string
}

type Factory struct {
	cfg Config
	log logx.Logger
}

var errBadSessionID = errors.New("session id must not contain path separators")

func NewFactory(cfg Config, log logx.Logger) (*Factory, error) {
	if strings.TrimSpace(cfg.StorePath) == "" {
		return nil, errors.New("whatsapp store path is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if name := strings.TrimSpace(cfg.DeviceName); name != "" {
		store.DeviceProps.Os = proto.String(name)
	}
	if err := os.MkdirAll(cfg.StorePath, 0o700); err != nil {
		return nil, err
	}
	return &Factory{cfg: cfg, log: log}, nil
}

func (f *Factory) sessionDir(sessionID string) (string, error) {
	if sessionID == "" || strings.ContainsAny(sessionID, `/\`) || strings.Contains(sessionID, "..") {
		return "", fmt.Errorf("%w: %q", errBadSessionID, sessionID)
	}
	return filepath.Join(f.cfg.StorePath, sessionID), nil
}

// New opens (or creates) the session's credential store and constructs an
// unconnected client around it.
func (f *Factory) New(ctx context.Context, sessionID string) (transport.Client, error) {
	dir, err := f.sessionDir(sessionID)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}

	dsn := "file:" + filepath.Join(dir, "credentials.db") +
		"?_pragma=foreign_keys(1)&_pragma=busy_timeout(10000)"
	container, err := sqlstore.New(ctx, "sqlite", dsn, waLog.Noop)
	if err != nil {
		return nil, fmt.Errorf("open credential store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		_ = container.Close()
		return nil, fmt.Errorf("load device: %w", err)
	}

	wa := whatsmeow.NewClient(device, waLog.Noop)
	return newClient(sessionID, wa, container, f.log.With(logx.String("session", sessionID))), nil
}

// Purge removes the session's credential store directory. Safe to call when
// nothing exists for the id.
func (f *Factory) Purge(sessionID string) error {
	dir, err := f.sessionDir(sessionID)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}
