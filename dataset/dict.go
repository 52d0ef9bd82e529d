// Copyright 2025 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package dataset

// FreqDict maps external identifiers to dense indices in order of first
// appearance and counts how often each identifier was seen.
type FreqDict struct {
	index map[string]int
	names []string
	freq  []int
}

func NewFreqDict() *FreqDict {
	return &FreqDict{index: make(map[string]int)}
}

func (d *FreqDict) Count() int {
	return len(d.names)
}

// Id returns the index of name, adding it if absent, and counts one occurrence.
func (d *FreqDict) Id(name string) int {
	id := d.Lookup(name)
	d.freq[id]++
	return id
}

// Lookup returns the index of name, adding it with zero frequency if absent.
func (d *FreqDict) Lookup(name string) int {
	if id, ok := d.index[name]; ok {
		return id
	}
	id := len(d.names)
	d.index[name] = id
	d.names = append(d.names, name)
	d.freq = append(d.freq, 0)
	return id
}

func (d *FreqDict) String(id int) (string, bool) {
	if id < 0 || id >= len(d.names) {
		return "", false
	}
	return d.names[id], true
}

func (d *FreqDict) Freq(id int) int {
	if id < 0 || id >= len(d.freq) {
		return 0
	}
	return d.freq[id]
}
