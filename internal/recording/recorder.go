package recording

import (
	"log/slog"
	"time"

	"github.com/Tyrowin/sailhub/internal/model"
)

// DefaultMinSamples is the session length at or below which a recording is
// discarded as a drive-by.
const DefaultMinSamples = 30

// Buffer holds the per-client sample buffers.
type Buffer interface {
	AppendSample(id string, pose model.Pose, now time.Time) bool
	TakeSamples(id string) ([]model.Sample, time.Time, bool)
}

// Saver persists finished recordings.
type Saver interface {
	Save(rec *model.Recording) error
}

// RecorderConfig controls session capture.
type RecorderConfig struct {
	Enabled    bool
	MinSamples int
}

// Recorder captures inbound poses while recording mode is on and flushes
// them to a Saver when the client leaves.
type Recorder struct {
	cfg    RecorderConfig
	buf    Buffer
	store  Saver
	logger *slog.Logger
	now    func() time.Time
}

// NewRecorder creates a Recorder writing into buf and flushing to store.
func NewRecorder(cfg RecorderConfig, buf Buffer, store Saver, logger *slog.Logger) *Recorder {
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = DefaultMinSamples
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{cfg: cfg, buf: buf, store: store, logger: logger, now: time.Now}
}

// Enabled reports whether recording mode is on.
func (r *Recorder) Enabled() bool {
	return r.cfg.Enabled
}

// Record appends pose to the client's session buffer.
func (r *Recorder) Record(clientID string, pose model.Pose) {
	if !r.cfg.Enabled {
		return
	}
	r.buf.AppendSample(clientID, pose, r.now())
}

// Finalize flushes the client's buffer. It returns a recording only when the
// session holds more than MinSamples samples; shorter sessions are dropped.
// A failed save is logged and the recording is still returned with an empty
// Name; Name is set only once the recording is on disk.
func (r *Recorder) Finalize(clientID string) (*model.Recording, bool) {
	if !r.cfg.Enabled {
		return nil, false
	}

	samples, _, ok := r.buf.TakeSamples(clientID)
	if !ok {
		return nil, false
	}
	if len(samples) <= r.cfg.MinSamples {
		if len(samples) > 0 {
			r.logger.Debug("Discarding short session", "client_id", clientID, "samples", len(samples))
		}
		return nil, false
	}

	rec := &model.Recording{
		ClientID:  clientID,
		Timestamp: r.now().UTC(),
		Movements: samples,
	}
	if err := r.store.Save(rec); err != nil {
		r.logger.Error("Failed to save recording", "client_id", clientID, "samples", len(samples), "error", err)
	}
	return rec, true
}
