package buffer_pool

import "container/list"

// LRUCache 按young/old两段管理页面。新读入的页面放在old段头部，
// 在old段再次被访问才提升到young段，避免一次性扫描冲掉热点页。
type LRUCache struct {
	youngPercent float64
	capacity     int

	youngList *list.List
	oldList   *list.List
}

func NewLRUCache(capacity int, youngPercent float64) *LRUCache {
	return &LRUCache{
		youngPercent: youngPercent,
		capacity:     capacity,
		youngList:    list.New(),
		oldList:      list.New(),
	}
}

func (c *LRUCache) Len() int {
	return c.youngList.Len() + c.oldList.Len()
}

// Insert 新页面插入old段头部
func (c *LRUCache) Insert(page *BufferPage) {
	page.isInYoungRegion = false
	page.elem = c.oldList.PushFront(page)
}

// Touch 记录一次访问
func (c *LRUCache) Touch(page *BufferPage) {
	if page.isInYoungRegion {
		c.youngList.MoveToFront(page.elem)
		return
	}
	c.oldList.Remove(page.elem)
	page.isInYoungRegion = true
	page.elem = c.youngList.PushFront(page)
	c.rebalance()
}

func (c *LRUCache) Remove(page *BufferPage) {
	if page.elem == nil {
		return
	}
	if page.isInYoungRegion {
		c.youngList.Remove(page.elem)
	} else {
		c.oldList.Remove(page.elem)
	}
	page.elem = nil
}

// Victim 从old段尾部开始找第一个未被pin住的页面
func (c *LRUCache) Victim() *BufferPage {
	for _, l := range []*list.List{c.oldList, c.youngList} {
		for e := l.Back(); e != nil; e = e.Prev() {
			page := e.Value.(*BufferPage)
			if page.pinCount == 0 {
				return page
			}
		}
	}
	return nil
}

// rebalance young段超出比例时把尾部降级到old段头部
func (c *LRUCache) rebalance() {
	youngMax := int(float64(c.capacity) * c.youngPercent)
	if youngMax < 1 {
		youngMax = 1
	}
	for c.youngList.Len() > youngMax {
		e := c.youngList.Back()
		page := e.Value.(*BufferPage)
		c.youngList.Remove(e)
		page.isInYoungRegion = false
		page.elem = c.oldList.PushFront(page)
	}
}

// Each 遍历所有页面
func (c *LRUCache) Each(fn func(page *BufferPage)) {
	for _, l := range []*list.List{c.youngList, c.oldList} {
		for e := l.Front(); e != nil; {
			next := e.Next()
			fn(e.Value.(*BufferPage))
			e = next
		}
	}
}
