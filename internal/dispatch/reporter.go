package dispatch

import (
	"slices"
	"sync"

	"github.com/hitoshi/digestman/internal/model"
)

// Reporter は1回の実行で得られたユーザー単位の結果を集計する。
// 並行に記録されても、結果一覧は対象ユーザーの並び順で返す。
type Reporter struct {
	mu       sync.Mutex
	rank     map[string]int
	outcomes []model.Outcome
}

// NewReporter は対象ユーザーの並び順を指定してReporterを生成する。
func NewReporter(userIDs []string) *Reporter {
	rank := make(map[string]int, len(userIDs))
	for i, id := range userIDs {
		if _, ok := rank[id]; !ok {
			rank[id] = i
		}
	}
	return &Reporter{
		rank:     rank,
		outcomes: make([]model.Outcome, 0, len(userIDs)),
	}
}

// Record は結果を1件追加する。
func (r *Reporter) Record(o model.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}

// Outcomes は記録済みの結果を対象ユーザーの並び順で返す。
// 並びにないユーザーの結果は末尾に記録順で置く。
func (r *Reporter) Outcomes() []model.Outcome {
	r.mu.Lock()
	out := slices.Clone(r.outcomes)
	r.mu.Unlock()

	slices.SortStableFunc(out, func(a, b model.Outcome) int {
		return r.rankOf(a.UserID) - r.rankOf(b.UserID)
	})
	return out
}

func (r *Reporter) rankOf(userID string) int {
	if i, ok := r.rank[userID]; ok {
		return i
	}
	return len(r.rank)
}

// Counts はステータスごとの件数を返す。
func (r *Reporter) Counts() model.Counts {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := model.Counts{Total: len(r.outcomes)}
	for _, o := range r.outcomes {
		switch o.Status {
		case model.OutcomeSent:
			c.Sent++
		case model.OutcomeSkipped:
			c.Skipped++
		case model.OutcomeError:
			c.Error++
		}
	}
	return c
}

// Finish は集計結果を実行記録に書き込む。
func (r *Reporter) Finish(run *model.DispatchRun) *model.DispatchRun {
	run.Outcomes = r.Outcomes()
	run.Counts = r.Counts()
	return run
}
