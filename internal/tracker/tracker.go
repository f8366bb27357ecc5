package tracker

import "sort"

// Item 数据源中当前存在的文档及其签名
type Item struct {
	ID        string
	Name      string
	Signature string
}

// Changes 变更检测结果，各列表按ID排序
type Changes struct {
	New      []Item  // 记录中不存在
	Modified []Item  // 签名与记录不同
	Deleted  []Entry // 记录中存在但数据源中已不存在
}

// Empty 是否没有任何变更
func (c Changes) Empty() bool {
	return len(c.New) == 0 && len(c.Modified) == 0 && len(c.Deleted) == 0
}

// Pending 需要处理的文档（新增在前，修改在后）
func (c Changes) Pending() []Item {
	out := make([]Item, 0, len(c.New)+len(c.Modified))
	out = append(out, c.New...)
	return append(out, c.Modified...)
}

// DetectChanges 比较已知记录与当前文档列表
//
// 签名为空的文档视为已修改，避免把无法计算签名的文档误判为未变化。
// 非 processed 状态的记录同样视为已修改。
func DetectChanges(known *Record, current []Item) Changes {
	var changes Changes
	if known == nil {
		known = NewRecord()
	}

	seen := make(map[string]struct{}, len(current))
	for _, item := range current {
		seen[item.ID] = struct{}{}

		entry, ok := known.Get(item.ID)
		switch {
		case !ok:
			changes.New = append(changes.New, item)
		case item.Signature == "" || entry.Signature != item.Signature || entry.Status != StatusProcessed:
			changes.Modified = append(changes.Modified, item)
		}
	}

	for id, entry := range known.Entries {
		if _, ok := seen[id]; !ok {
			changes.Deleted = append(changes.Deleted, entry)
		}
	}

	sort.Slice(changes.New, func(i, j int) bool { return changes.New[i].ID < changes.New[j].ID })
	sort.Slice(changes.Modified, func(i, j int) bool { return changes.Modified[i].ID < changes.Modified[j].ID })
	sort.Slice(changes.Deleted, func(i, j int) bool { return changes.Deleted[i].ID < changes.Deleted[j].ID })
	return changes
}
