package monitor

import (
	"context"

	"github.com/KNICEX/market-hunter/internal/schedule"
)

type HuntTask struct {
	svc Service
}

func NewHuntTask(svc Service) schedule.Task {
	return &HuntTask{svc: svc}
}

func (t *HuntTask) Run(ctx context.Context) error {
	return t.svc.Scan(ctx)
}

func (t *HuntTask) Name() string {
	return "market hunt scan task"
}
