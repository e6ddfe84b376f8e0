package aggregate

import (
	"bytes"
	"sort"

	jsoniter "github.com/json-iterator/go"
)

// LabelCount is one entry of a top-N list.
type LabelCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// Counter counts labels and remembers the order in which each label was
// first seen. That order breaks ties in MostCommon and orders the JSON keys.
type Counter struct {
	order  []string
	counts map[string]int
}

// NewCounter returns an empty Counter.
func NewCounter() *Counter {
	return &Counter{counts: make(map[string]int)}
}

// Add increments label by n.
func (c *Counter) Add(label string, n int) {
	if _, seen := c.counts[label]; !seen {
		c.order = append(c.order, label)
	}
	c.counts[label] += n
}

// Update increments each label by one.
func (c *Counter) Update(labels ...string) {
	for _, l := range labels {
		c.Add(l, 1)
	}
}

// Get returns the count for label, 0 if never seen.
func (c *Counter) Get(label string) int { return c.counts[label] }

// Len is the number of distinct labels.
func (c *Counter) Len() int { return len(c.order) }

// Labels returns the labels in first-seen order.
func (c *Counter) Labels() []string {
	return append([]string(nil), c.order...)
}

// Map returns a copy of the counts.
func (c *Counter) Map() map[string]int {
	out := make(map[string]int, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}

// MostCommon returns up to n entries by descending count. Equal counts keep
// first-seen order.
func (c *Counter) MostCommon(n int) []LabelCount {
	all := make([]LabelCount, 0, len(c.order))
	for _, l := range c.order {
		all = append(all, LabelCount{Label: l, Count: c.counts[l]})
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Count > all[j].Count })
	if n >= 0 && len(all) > n {
		all = all[:n]
	}
	return all
}

// Clone returns an independent copy.
func (c *Counter) Clone() *Counter {
	return &Counter{order: c.Labels(), counts: c.Map()}
}

// MarshalJSON writes {label: count} with keys in first-seen order.
func (c *Counter) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, l := range c.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := jsoniter.Marshal(l)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, _ := jsoniter.Marshal(c.counts[l])
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
