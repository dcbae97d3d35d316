package listview

import "sort"

// Entry 记录一个被乐观移除的条目及其移除前的位置
type Entry struct {
	ID    string
	Index int // 移除前序列中的零基下标
	Item  any
}

// Snapshot 一次移除操作的回滚依据，条目按 Index 升序排列。
//
// 按升序逐个在 Index 处插入即可复原移除前的序列。
type Snapshot struct {
	Collection string
	Entries    []Entry
}

// Len 条目数量
func (s Snapshot) Len() int { return len(s.Entries) }

// IDs 返回快照中的 ID（按下标升序）
func (s Snapshot) IDs() []string {
	ids := make([]string, 0, len(s.Entries))
	for _, e := range s.Entries {
		ids = append(ids, e.ID)
	}
	return ids
}

// Subset 提取 ids 对应的条目，用于部分失败时只回滚失败的部分。
//
// 被排除的条目视为已永久删除，因此保留条目的下标会减去
// 排在其前面的被排除条目数，使回滚后的顺序与移除前一致。
func (s Snapshot) Subset(ids []string) Snapshot {
	keep := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		keep[id] = struct{}{}
	}

	out := Snapshot{Collection: s.Collection}
	dropped := 0
	for _, e := range s.sorted() {
		if _, ok := keep[e.ID]; !ok {
			dropped++
			continue
		}
		e.Index -= dropped
		out.Entries = append(out.Entries, e)
	}
	return out
}

func (s Snapshot) sorted() []Entry {
	entries := make([]Entry, len(s.Entries))
	copy(entries, s.Entries)
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Index < entries[j].Index })
	return entries
}
