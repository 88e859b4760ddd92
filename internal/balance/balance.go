// Package balance は配信候補の記事をフィード間で公平に割り当てる。
package balance

import (
	"sort"

	"github.com/samber/lo"

	"github.com/hitoshi/digestman/internal/model"
)

// Allocation は割り当て方式を表す。TotalBudgetかFixedPerSourceのいずれか。
type Allocation interface {
	isAllocation()
}

// TotalBudget は全体でN件までをアクティブなフィードに均等配分する方式。
// 各フィードにN/アクティブ数（切り捨て）を割り当て、余りは順に埋める。
type TotalBudget struct {
	N int
}

// FixedPerSource はフィードごとにCap件までを採用する旧方式。全体の上限はない。
type FixedPerSource struct {
	Cap int
}

func (TotalBudget) isAllocation()    {}
func (FixedPerSource) isAllocation() {}

// Resolve は設定値から割り当て方式を決める。
// perFeedが正の場合は旧方式、それ以外は全体上限による配分を使う。
func Resolve(total, perFeed int) Allocation {
	if perFeed > 0 {
		return FixedPerSource{Cap: perFeed}
	}
	return TotalBudget{N: total}
}

// Balance は候補記事を割り当て方式に従って選ぶ。
// itemsはpublished_at降順を想定する。feedUniverseはユーザーのフィードIDの並びで、
// 同順位のときはこの順に優先する。純粋関数で入力は変更しない。
func Balance(items []model.Item, feedUniverse []string, alloc Allocation) []model.Item {
	switch a := alloc.(type) {
	case FixedPerSource:
		return fixedPerSource(items, a.Cap)
	case TotalBudget:
		return totalBudget(items, feedUniverse, a.N)
	default:
		return nil
	}
}

func fixedPerSource(items []model.Item, limit int) []model.Item {
	if limit <= 0 {
		return []model.Item{}
	}
	counts := make(map[string]int)
	result := make([]model.Item, 0, len(items))
	for _, it := range items {
		if counts[it.FeedID] < limit {
			result = append(result, it)
			counts[it.FeedID]++
		}
	}
	return result
}

func totalBudget(items []model.Item, feedUniverse []string, n int) []model.Item {
	if n <= 0 {
		return []model.Item{}
	}

	order, buckets := partition(items, feedUniverse)
	active := lo.Filter(order, func(id string, _ int) bool { return len(buckets[id]) > 0 })
	if len(active) == 0 {
		return []model.Item{}
	}

	base := n / len(active)
	taken := make(map[string]int, len(active))
	result := make([]model.Item, 0, min(n, len(items)))

	// 1巡目: 各フィードから基本配分まで
	for _, id := range active {
		k := min(base, len(buckets[id]))
		result = append(result, buckets[id][:k]...)
		taken[id] = k
	}

	// 2巡目: 残り枠を同じ順で埋める
	remaining := n - len(result)
	for _, id := range active {
		if remaining <= 0 {
			break
		}
		rest := buckets[id][taken[id]:]
		k := min(remaining, len(rest))
		result = append(result, rest[:k]...)
		remaining -= k
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].PublishedAt.After(result[j].PublishedAt)
	})
	return result
}

// partition は記事を起点フィードごとに分ける。
// 並びはfeedUniverseの順で、universe外の起点は初出順にその後ろへ並べる。
// 配信元集合だけで一致した記事を取りこぼさないためである。
func partition(items []model.Item, feedUniverse []string) ([]string, map[string][]model.Item) {
	buckets := make(map[string][]model.Item, len(feedUniverse))
	order := make([]string, 0, len(feedUniverse))
	for _, id := range feedUniverse {
		if _, ok := buckets[id]; ok {
			continue
		}
		buckets[id] = nil
		order = append(order, id)
	}
	for _, it := range items {
		if _, ok := buckets[it.FeedID]; !ok {
			order = append(order, it.FeedID)
		}
		buckets[it.FeedID] = append(buckets[it.FeedID], it)
	}
	return order, buckets
}

// Distribution はフィードごとの採用件数を返す。ログ出力用。
func Distribution(items []model.Item) map[string]int {
	dist := make(map[string]int)
	for _, it := range items {
		dist[it.FeedID]++
	}
	return dist
}
