// Package delivery runs the config pipeline: validate, diff, push to the
// device, snapshot the previous state, persist, notify. Upload and rollback
// are the same pipeline fed from different sources.
package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"dashmaster/pkg/device"
	"dashmaster/pkg/events"
	"dashmaster/services/ledger"
	"dashmaster/services/packs"
	"dashmaster/services/registry"
	"dashmaster/services/snapshot"
)

// Event types published on the in-process bus and mirrored to NATS.
const (
	EventConfigUpdated    = "config.updated"
	EventConfigRolledBack = "config.rolled_back"

	natsSubjectPrefix = "dashmaster.events."
)

const (
	opUpload   = "upload"
	opRollback = "rollback"
)

// DeviceDirectory resolves hostnames against the registry.
type DeviceDirectory interface {
	ByHostname(ctx context.Context, hostname string) (registry.Device, error)
}

// Recorder is the audit ledger surface the engine needs.
type Recorder interface {
	Record(ctx context.Context, deviceID uuid.UUID, hostname string, digests map[packs.Kind]string, actor, note string) error
	History(ctx context.Context, deviceID uuid.UUID) ([]ledger.Entry, error)
	Birth(ctx context.Context, deviceID uuid.UUID) (ledger.Birth, error)
}

// Pusher delivers a pack to one device.
type Pusher interface {
	PushPack(ctx context.Context, baseURL string, pack packs.Pack) error
}

// Config wires the engine's collaborators.
type Config struct {
	Devices   DeviceDirectory
	Validator *packs.Validator
	Snapshots *snapshot.Store
	Pusher    Pusher
	Resolver  *device.Resolver
	Ledger    Recorder
	Bus       *events.Bus
	NATS      *nats.Conn // optional mirror, best effort
	Logger    zerolog.Logger
}

// Engine serializes config changes per device and drives the pipeline.
type Engine struct {
	cfg Config

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(cfg Config) (*Engine, error) {
	if cfg.Devices == nil {
		return nil, errors.New("device directory is required")
	}
	if cfg.Validator == nil {
		return nil, errors.New("validator is required")
	}
	if cfg.Snapshots == nil {
		return nil, errors.New("snapshot store is required")
	}
	if cfg.Pusher == nil {
		return nil, errors.New("pusher is required")
	}
	if cfg.Resolver == nil {
		cfg.Resolver = device.NewResolver("")
	}
	if cfg.Ledger == nil {
		return nil, errors.New("ledger is required")
	}
	if cfg.Bus == nil {
		return nil, errors.New("event bus is required")
	}
	return &Engine{cfg: cfg, locks: make(map[string]*sync.Mutex)}, nil
}

// UploadRequest is a fresh pack from an operator.
type UploadRequest struct {
	Hostname string
	Files    map[packs.Kind][]byte
	Actor    string
}

// RollbackRequest restores a snapshot. An empty label means the latest.
type RollbackRequest struct {
	Hostname string
	Label    string
	Actor    string
}

// Result describes one accepted operation. Digests and Changed cover only the
// kinds the pack carried. SnapshotLabel is empty when nothing was live before.
type Result struct {
	Device        string
	Digests       map[packs.Kind]string
	Changed       map[packs.Kind]bool
	SnapshotLabel string
	RestoredLabel string
}

// Upload validates and delivers a fresh pack. Rejections happen before any
// side effect: no device traffic, no disk writes, no rows, no events.
func (e *Engine) Upload(ctx context.Context, req UploadRequest) (*Result, error) {
	dev, err := e.cfg.Devices.ByHostname(ctx, req.Hostname)
	if err != nil {
		uploadsTotal.WithLabelValues(outcomeRejected).Inc()
		return nil, err
	}

	mu := e.deviceLock(dev.Hostname)
	mu.Lock()
	defer mu.Unlock()

	pack := make(packs.Pack, len(req.Files))
	for kind, data := range req.Files {
		pack[kind] = packs.NewArtifact(kind, data)
	}
	if err := e.cfg.Validator.ValidatePack(pack); err != nil {
		uploadsTotal.WithLabelValues(outcomeRejected).Inc()
		return nil, err
	}

	return e.deliver(ctx, dev, pack, req.Actor, "", opUpload)
}

// Rollback replays a snapshot through the same pipeline. The pre-rollback
// state is captured first, so a rollback can itself be rolled back.
func (e *Engine) Rollback(ctx context.Context, req RollbackRequest) (*Result, error) {
	dev, err := e.cfg.Devices.ByHostname(ctx, req.Hostname)
	if err != nil {
		rollbacksTotal.WithLabelValues(outcomeRejected).Inc()
		return nil, err
	}

	mu := e.deviceLock(dev.Hostname)
	mu.Lock()
	defer mu.Unlock()

	files, label, err := e.cfg.Snapshots.Load(dev.Hostname, req.Label)
	if err != nil {
		rollbacksTotal.WithLabelValues(outcomeRejected).Inc()
		return nil, err
	}

	pack := make(packs.Pack, len(files))
	for name, data := range files {
		kind, ok := packs.KindForFilename(name)
		if !ok {
			continue
		}
		pack[kind] = packs.NewArtifact(kind, data)
	}
	if err := e.cfg.Validator.ValidatePack(pack); err != nil {
		rollbacksTotal.WithLabelValues(outcomeRejected).Inc()
		return nil, err
	}

	return e.deliver(ctx, dev, pack, req.Actor, label, opRollback)
}

// ListSnapshots returns the device's snapshot history, oldest first.
func (e *Engine) ListSnapshots(ctx context.Context, hostname string) ([]snapshot.Info, error) {
	dev, err := e.cfg.Devices.ByHostname(ctx, hostname)
	if err != nil {
		return nil, err
	}
	return e.cfg.Snapshots.List(dev.Hostname)
}

// History returns the device's audit trail, newest first.
func (e *Engine) History(ctx context.Context, hostname string) ([]ledger.Entry, error) {
	dev, err := e.cfg.Devices.ByHostname(ctx, hostname)
	if err != nil {
		return nil, err
	}
	return e.cfg.Ledger.History(ctx, dev.ID)
}

// Birth returns the device's birth certificate.
func (e *Engine) Birth(ctx context.Context, hostname string) (ledger.Birth, error) {
	dev, err := e.cfg.Devices.ByHostname(ctx, hostname)
	if err != nil {
		return ledger.Birth{}, err
	}
	return e.cfg.Ledger.Birth(ctx, dev.ID)
}

// deliver runs the mutating stages for an already validated pack. The caller
// holds the device lock.
func (e *Engine) deliver(ctx context.Context, dev registry.Device, pack packs.Pack, actor, restoredLabel, op string) (*Result, error) {
	// Diff against the live files before anything mutates.
	live, err := e.cfg.Snapshots.ReadLive(dev.Hostname)
	if err != nil {
		e.countOutcome(op, outcomeError)
		return nil, err
	}
	digests := pack.Digests()
	changed := packs.Diff(digestsOfFiles(live), digests)

	// Past this point the operation runs to completion even if the caller
	// goes away; each device request still has its own timeout.
	mctx := context.WithoutCancel(ctx)

	baseURL := e.cfg.Resolver.BaseURL(dev.Hostname, dev.HTTPPort)
	start := time.Now()
	if err := e.cfg.Pusher.PushPack(mctx, baseURL, pack); err != nil {
		pushFailuresTotal.Inc()
		e.countOutcome(op, outcomeRejected)
		return nil, err
	}
	pushDurationSeconds.Observe(time.Since(start).Seconds())

	label, err := e.cfg.Snapshots.Capture(dev.Hostname, artifactFilenames())
	if errors.Is(err, snapshot.ErrNothingToSnapshot) {
		label = ""
	} else if err != nil {
		return nil, e.persistFailure(dev, op, "capture snapshot", err)
	}

	if op == opRollback {
		err = e.cfg.Snapshots.Restore(dev.Hostname, filesOfPack(pack))
	} else {
		err = e.cfg.Snapshots.WriteLive(dev.Hostname, filesOfPack(pack))
	}
	if err != nil {
		return nil, e.persistFailure(dev, op, "write live files", err)
	}

	note := ""
	if op == opRollback {
		note = "rolled_back_to:" + restoredLabel
	}
	if err := e.cfg.Ledger.Record(mctx, dev.ID, dev.Hostname, digests, actor, note); err != nil {
		return nil, e.persistFailure(dev, op, "record ledger", err)
	}

	e.notify(mctx, dev, op, digests, changed, label, restoredLabel, actor)

	e.countOutcome(op, outcomeAccepted)
	if label != "" {
		snapshotsCreatedTotal.Inc()
	}
	e.cfg.Logger.Info().
		Str("device", dev.Hostname).
		Str("op", op).
		Str("snapshot", label).
		Msg("config accepted")

	return &Result{
		Device:        dev.Hostname,
		Digests:       digests,
		Changed:       changed,
		SnapshotLabel: label,
		RestoredLabel: restoredLabel,
	}, nil
}

// notify publishes the event in-process and mirrors it to NATS. Neither can
// fail the operation.
func (e *Engine) notify(ctx context.Context, dev registry.Device, op string, digests map[packs.Kind]string, changed map[packs.Kind]bool, label, restoredLabel, actor string) {
	eventType := EventConfigUpdated
	if op == opRollback {
		eventType = EventConfigRolledBack
	}

	hashes := make(map[string]any, len(digests))
	for kind, sum := range digests {
		hashes[kind.String()] = sum
	}
	diffs := make(map[string]any, len(changed))
	for kind, flag := range changed {
		diffs[kind.String()] = flag
	}
	payload := map[string]any{
		"device":   dev.Hostname,
		"hashes":   hashes,
		"changed":  diffs,
		"snapshot": label,
		"actor":    actor,
	}
	if op == opRollback {
		payload["restored_label"] = restoredLabel
	}

	e.cfg.Bus.Publish(eventType, payload)
	e.mirror(ctx, eventType, payload)
}

func (e *Engine) mirror(ctx context.Context, eventType string, payload map[string]any) {
	if e.cfg.NATS == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	_ = e.cfg.NATS.Publish(natsSubjectPrefix+eventType, data)
}

func (e *Engine) persistFailure(dev registry.Device, op, stage string, err error) error {
	e.countOutcome(op, outcomeError)
	perr := &PersistenceError{Device: dev.Hostname, Op: op, Stage: stage, Err: err}
	e.cfg.Logger.Error().
		Err(err).
		Str("device", dev.Hostname).
		Str("op", op).
		Str("stage", stage).
		Msg("persistence failed after device accepted the pack; records lag the device")
	return perr
}

func (e *Engine) countOutcome(op, outcome string) {
	if op == opRollback {
		rollbacksTotal.WithLabelValues(outcome).Inc()
		return
	}
	uploadsTotal.WithLabelValues(outcome).Inc()
}

func (e *Engine) deviceLock(hostname string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	mu, ok := e.locks[hostname]
	if !ok {
		mu = &sync.Mutex{}
		e.locks[hostname] = mu
	}
	return mu
}

func artifactFilenames() []string {
	kinds := packs.Kinds()
	names := make([]string, 0, len(kinds))
	for _, k := range kinds {
		names = append(names, k.Filename())
	}
	return names
}

func digestsOfFiles(files map[string][]byte) map[packs.Kind]string {
	out := make(map[packs.Kind]string, len(files))
	for name, data := range files {
		if kind, ok := packs.KindForFilename(name); ok {
			out[kind] = packs.SHA256Hex(data)
		}
	}
	return out
}

func filesOfPack(pack packs.Pack) map[string][]byte {
	out := make(map[string][]byte, len(pack))
	for kind, art := range pack {
		out[kind.Filename()] = art.Data
	}
	return out
}
