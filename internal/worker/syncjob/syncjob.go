// Package syncjob はロースター同期の定期実行ジョブを提供する。
package syncjob

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hitoshi/teamsync/internal/model"
)

// maxSkipCycles は連続失敗時に読み飛ばすサイクル数の上限。
const maxSkipCycles = 8

// SyncRunner は同期1回の実行インターフェース。
type SyncRunner interface {
	// Run は指定大会の同期を1回実行する。
	Run(ctx context.Context, tournamentID string) (*model.SyncReport, error)
}

// Job は定期同期ジョブ。ティッカーで一定間隔ごとに同期を実行し、
// 連続失敗時はサイクルを読み飛ばすことで外部プラットフォームへの
// 負荷を抑える。手動同期が実行中のサイクルは静かにスキップする。
type Job struct {
	runner       SyncRunner
	tournamentID string
	logger       *slog.Logger

	consecutiveFailures int
	skipRemaining       int
}

// NewJob はJobの新しいインスタンスを生成する。
func NewJob(runner SyncRunner, tournamentID string, logger *slog.Logger) *Job {
	return &Job{
		runner:       runner,
		tournamentID: tournamentID,
		logger:       logger,
	}
}

// Start は指定間隔のティッカーでジョブを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *Job) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("同期ジョブを開始しました",
		slog.String("tournament_id", j.tournamentID),
		slog.Duration("interval", interval),
	)

	// 起動直後に1回実行
	j.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("同期ジョブを停止しました",
				slog.String("tournament_id", j.tournamentID),
			)
			return
		case <-ticker.C:
			if j.skipRemaining > 0 {
				j.skipRemaining--
				j.logger.Info("連続失敗によりこのサイクルを読み飛ばします",
					slog.String("tournament_id", j.tournamentID),
					slog.Int("skip_remaining", j.skipRemaining),
				)
				continue
			}
			j.RunOnce(ctx)
		}
	}
}

// RunOnce は同期を1回実行し、連続失敗カウンタを更新する。
// 連続失敗ごとに読み飛ばすサイクル数を1、2、4、…と倍増させ、
// maxSkipCyclesで頭打ちにする。成功でカウンタはリセットされる。
func (j *Job) RunOnce(ctx context.Context) {
	_, err := j.runner.Run(ctx, j.tournamentID)
	if err == nil {
		j.consecutiveFailures = 0
		j.skipRemaining = 0
		return
	}

	if errors.Is(err, model.ErrSyncInProgress) {
		// 手動同期と重なっただけなので失敗には数えない
		j.logger.Info("同期が実行中のためこのサイクルをスキップしました",
			slog.String("tournament_id", j.tournamentID),
		)
		return
	}

	j.consecutiveFailures++
	j.skipRemaining = backoffCycles(j.consecutiveFailures)

	j.logger.Error("定期同期に失敗しました",
		slog.String("tournament_id", j.tournamentID),
		slog.Int("consecutive_failures", j.consecutiveFailures),
		slog.Int("skip_cycles", j.skipRemaining),
		slog.String("error", err.Error()),
	)
}

// backoffCycles は連続失敗回数から読み飛ばすサイクル数を計算する。
func backoffCycles(failures int) int {
	cycles := 1
	for i := 1; i < failures; i++ {
		cycles *= 2
		if cycles >= maxSkipCycles {
			return maxSkipCycles
		}
	}
	return cycles
}
