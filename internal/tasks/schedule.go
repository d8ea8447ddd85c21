package tasks

import (
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/hugh/go-shepherd/pkg/util"
)

// Registrar is the part of *asynq.Scheduler used to install periodic tasks.
type Registrar interface {
	Register(cronspec string, task *asynq.Task, opts ...asynq.Option) (string, error)
}

// RegisterSchedules installs the periodic invitation sweep.
func RegisterSchedules(s Registrar, sweepCron string) error {
	if err := util.ValidateCronExpr(sweepCron); err != nil {
		return err
	}
	if _, err := s.Register(sweepCron, NewInvitationSweepTask()); err != nil {
		return fmt.Errorf("register invitation sweep: %w", err)
	}
	return nil
}
