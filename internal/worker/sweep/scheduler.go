package sweep

import (
	"context"
	"log/slog"
	"time"
)

// Scheduler は巡回ジョブを毎日決まった時刻に起動する。
// 実行は直列であり、巡回が次の実行予定時刻を跨いだ場合は
// その回をスキップして翌日の同時刻に実行する。
type Scheduler struct {
	job    *Job
	logger *slog.Logger
	hour   int
	minute int

	now func() time.Time // テストで固定可能
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// hourとminuteはローカルタイムゾーンでの実行時刻。
func NewScheduler(job *Job, logger *slog.Logger, hour, minute int) *Scheduler {
	return &Scheduler{
		job:    job,
		logger: logger,
		hour:   hour,
		minute: minute,
		now:    time.Now,
	}
}

// NextRun はnowより後の直近の実行予定時刻を返す。
// 当日の実行時刻を過ぎている場合は翌日の同時刻になる。
func (s *Scheduler) NextRun(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), s.hour, s.minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Start はスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
// 巡回の失敗はログに記録し、翌日の実行で再試行する。
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("ライセンス巡回スケジューラを開始しました",
		slog.Int("hour", s.hour),
		slog.Int("minute", s.minute),
	)

	for {
		next := s.NextRun(s.now())
		timer := time.NewTimer(next.Sub(s.now()))

		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("ライセンス巡回スケジューラを停止しました")
			return
		case <-timer.C:
			if _, err := s.job.Run(ctx); err != nil {
				s.logger.Error("ライセンス巡回の実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
