package inject

import (
	"context"
	"time"

	"github.com/pcreg/depthcapture/components/camera"
	"github.com/pcreg/depthcapture/rimage/transform"
)

// Pipeline is an injected camera pipeline.
type Pipeline struct {
	camera.Pipeline
	StreamProfilesFunc  func(ctx context.Context, sensor camera.SensorType) (camera.StreamProfileList, error)
	EnableFrameSyncFunc func() error
	StartFunc           func(ctx context.Context, cfg *camera.PipelineConfig) error
	WaitForFramesFunc   func(ctx context.Context, timeout time.Duration) (*camera.FrameSet, error)
	CameraSystemFunc    func() (*transform.DepthColorIntrinsicsExtrinsics, error)
	StopFunc            func(ctx context.Context) error
}

// StreamProfiles calls the injected StreamProfiles or the real version.
func (p *Pipeline) StreamProfiles(ctx context.Context, sensor camera.SensorType) (camera.StreamProfileList, error) {
	if p.StreamProfilesFunc == nil {
		return p.Pipeline.StreamProfiles(ctx, sensor)
	}
	return p.StreamProfilesFunc(ctx, sensor)
}

// EnableFrameSync calls the injected EnableFrameSync or the real version.
func (p *Pipeline) EnableFrameSync() error {
	if p.EnableFrameSyncFunc == nil {
		if p.Pipeline == nil {
			return nil
		}
		return p.Pipeline.EnableFrameSync()
	}
	return p.EnableFrameSyncFunc()
}

// Start calls the injected Start or the real version.
func (p *Pipeline) Start(ctx context.Context, cfg *camera.PipelineConfig) error {
	if p.StartFunc == nil {
		if p.Pipeline == nil {
			return nil
		}
		return p.Pipeline.Start(ctx, cfg)
	}
	return p.StartFunc(ctx, cfg)
}

// WaitForFrames calls the injected WaitForFrames or the real version.
func (p *Pipeline) WaitForFrames(ctx context.Context, timeout time.Duration) (*camera.FrameSet, error) {
	if p.WaitForFramesFunc == nil {
		return p.Pipeline.WaitForFrames(ctx, timeout)
	}
	return p.WaitForFramesFunc(ctx, timeout)
}

// CameraSystem calls the injected CameraSystem or the real version.
func (p *Pipeline) CameraSystem() (*transform.DepthColorIntrinsicsExtrinsics, error) {
	if p.CameraSystemFunc == nil {
		return p.Pipeline.CameraSystem()
	}
	return p.CameraSystemFunc()
}

// Stop calls the injected Stop or the real version.
func (p *Pipeline) Stop(ctx context.Context) error {
	if p.StopFunc == nil {
		if p.Pipeline == nil {
			return nil
		}
		return p.Pipeline.Stop(ctx)
	}
	return p.StopFunc(ctx)
}
