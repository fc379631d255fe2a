package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	logx "pbpwatch/pkg/logx"
)

// Job is one scheduled run. ctx is cancelled when the daemon stops.
type Job func(ctx context.Context)

// Run triggers job on spec until ctx is cancelled, then waits for an
// in-flight job to return. A tick that lands while the previous job is
// still running is skipped.
func Run(ctx context.Context, spec Spec, loc *time.Location, log logx.Logger, job Job) error {
	sched, err := spec.Schedule()
	if err != nil {
		return err
	}
	if loc == nil {
		loc = time.Local
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.Component("schedule"))

	cl := cronLogger{log: log}
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	c.Schedule(sched, cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		job(ctx)
	}))
	c.Start()
	log.Info("schedule started", logx.String("spec", spec.String()), logx.Time("next", sched.Next(time.Now().In(loc))))

	<-ctx.Done()
	<-c.Stop().Done()
	log.Info("schedule stopped")
	return nil
}

// cronLogger routes cron's own logging into logx. Info is demoted to debug;
// cron logs every wake-up.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug(msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error(msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
