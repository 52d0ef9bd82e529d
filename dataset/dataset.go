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

import (
	"bufio"
	"io"
	"os"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/latent/base"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"modernc.org/mathutil"
)

// Dataset is a set of implicit (user, item) interactions over dense indices
// [0, CountUsers()) and [0, CountItems()).
type Dataset struct {
	userCount    int
	itemCount    int
	users        []int32
	items        []int32
	userFeedback [][]int32
	userDict     *FreqDict
	itemDict     *FreqDict
}

func NewDataset(userCount, itemCount int) *Dataset {
	return &Dataset{
		userCount:    userCount,
		itemCount:    itemCount,
		userFeedback: make([][]int32, userCount),
	}
}

func (d *Dataset) CountUsers() int {
	return d.userCount
}

func (d *Dataset) CountItems() int {
	return d.itemCount
}

// Count returns the number of interactions.
func (d *Dataset) Count() int {
	return len(d.users)
}

func (d *Dataset) AddFeedback(user, item int) error {
	if user < 0 || user >= d.userCount {
		return errors.NotValidf("user %d out of [0, %d)", user, d.userCount)
	}
	if item < 0 || item >= d.itemCount {
		return errors.NotValidf("item %d out of [0, %d)", item, d.itemCount)
	}
	d.users = append(d.users, int32(user))
	d.items = append(d.items, int32(item))
	d.userFeedback[user] = append(d.userFeedback[user], int32(item))
	return nil
}

// GetUserFeedback returns the items of each user in insertion order.
func (d *Dataset) GetUserFeedback() [][]int32 {
	return d.userFeedback
}

// GetUserFeedbackSet returns the items of a user as a set.
func (d *Dataset) GetUserFeedbackSet(user int) mapset.Set[int] {
	set := mapset.NewThreadUnsafeSet[int]()
	if user < 0 || user >= d.userCount {
		return set
	}
	for _, item := range d.userFeedback[user] {
		set.Add(int(item))
	}
	return set
}

// Pair returns the i-th interaction.
func (d *Dataset) Pair(i int) (int, int) {
	return int(d.users[i]), int(d.items[i])
}

// Batch returns the users and items at the given positions.
func (d *Dataset) Batch(positions []int) ([]int, []int) {
	users := make([]int, len(positions))
	items := make([]int, len(positions))
	for i, pos := range positions {
		users[i], items[i] = d.Pair(pos)
	}
	return users, items
}

// Batches shuffles interaction positions and cuts them into batches of
// batchSize. A trailing batch of size 1 is merged into the previous batch since
// a contrastive step needs at least two pairs.
func (d *Dataset) Batches(batchSize int, rng base.RandomGenerator) [][]int {
	n := d.Count()
	if n == 0 || batchSize <= 0 {
		return nil
	}
	positions := rng.Perm(n)
	var batches [][]int
	for begin := 0; begin < n; begin += batchSize {
		end := mathutil.Min(begin+batchSize, n)
		batches = append(batches, positions[begin:end])
	}
	if last := len(batches) - 1; last > 0 && len(batches[last]) == 1 {
		batches[last-1] = positions[(last-1)*batchSize:]
		batches = batches[:last]
	}
	return batches
}

// Split moves about testRatio of each user's interactions into a test set. Every
// user with feedback keeps at least one interaction in the training set.
func (d *Dataset) Split(testRatio float32, seed int64) (*Dataset, *Dataset) {
	rng := base.NewRandomGenerator(seed)
	train := NewDataset(d.userCount, d.itemCount)
	test := NewDataset(d.userCount, d.itemCount)
	train.userDict, train.itemDict = d.userDict, d.itemDict
	test.userDict, test.itemDict = d.userDict, d.itemDict
	for user, items := range d.userFeedback {
		numTest := mathutil.Min(int(float32(len(items))*testRatio), len(items)-1)
		testSet := mapset.NewThreadUnsafeSet[int]()
		if numTest > 0 {
			testSet.Append(rng.Sample(0, len(items), numTest)...)
		}
		for i, item := range items {
			if testSet.Contains(i) {
				lo.Must0(test.AddFeedback(user, int(item)))
			} else {
				lo.Must0(train.AddFeedback(user, int(item)))
			}
		}
	}
	return train, test
}

// UserName returns the external identifier of a user loaded from a file.
func (d *Dataset) UserName(user int) (string, bool) {
	if d.userDict == nil {
		return "", false
	}
	return d.userDict.String(user)
}

// ItemName returns the external identifier of an item loaded from a file.
func (d *Dataset) ItemName(item int) (string, bool) {
	if d.itemDict == nil {
		return "", false
	}
	return d.itemDict.String(item)
}

// Synthetic generates clustered feedback: item j belongs to cluster
// j % numClusters, user u to cluster u % numClusters, and every user interacts
// with perUser distinct items of its own cluster.
func Synthetic(numUsers, numItems, numClusters, perUser int, seed int64) *Dataset {
	d := NewDataset(numUsers, numItems)
	if numClusters <= 0 || numItems == 0 {
		return d
	}
	numClusters = mathutil.Min(numClusters, numItems)
	rng := base.NewRandomGenerator(seed)
	for user := 0; user < numUsers; user++ {
		cluster := user % numClusters
		size := (numItems - cluster + numClusters - 1) / numClusters
		for _, k := range rng.Sample(0, size, mathutil.Min(perUser, size)) {
			lo.Must0(d.AddFeedback(user, cluster+k*numClusters))
		}
	}
	return d
}

// LoadTSV reads "user<TAB>item" lines, assigning dense indices in order of first
// appearance. Empty lines and lines starting with '#' are skipped.
func LoadTSV(path string) (*Dataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer file.Close()
	return ReadTSV(file)
}

// ReadTSV is LoadTSV on a reader.
func ReadTSV(r io.Reader) (*Dataset, error) {
	userDict, itemDict := NewFreqDict(), NewFreqDict()
	var pairs [][2]int
	scanner := bufio.NewScanner(r)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			return nil, errors.NotValidf("line %d: expect user and item separated by tab", lineNumber)
		}
		pairs = append(pairs, [2]int{userDict.Id(fields[0]), itemDict.Id(fields[1])})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Trace(err)
	}
	d := NewDataset(userDict.Count(), itemDict.Count())
	d.userDict, d.itemDict = userDict, itemDict
	for _, pair := range pairs {
		if err := d.AddFeedback(pair[0], pair[1]); err != nil {
			return nil, errors.Trace(err)
		}
	}
	return d, nil
}
