package worker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/andresmejia3/facetrack/internal/types"
)

// Provisioner starts one landmark worker per tracking session.
type Provisioner struct {
	Python         string
	ReadTimeout    time.Duration
	StartupTimeout time.Duration

	next atomic.Int64
}

// Provision spawns a worker configured from opts and blocks until its model is loaded.
func (p *Provisioner) Provision(ctx context.Context, opts types.DetectorOptions) (*PythonLandmarker, error) {
	cfg := ConfigFromOptions(opts)
	cfg.Python = p.Python
	cfg.ReadTimeout = p.ReadTimeout
	cfg.StartupTimeout = p.StartupTimeout
	return NewPythonLandmarker(ctx, int(p.next.Add(1)-1), cfg)
}
