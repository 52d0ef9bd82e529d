// Copyright 2026 gorse Project Authors
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

package embed

import (
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/latent/common/floats"
	"github.com/gorse-io/latent/common/heap"
	"github.com/gorse-io/latent/common/nn"
	"github.com/gorse-io/latent/common/parallel"
	"github.com/juju/errors"
)

const scoreBatchSize = 1024

// Score returns the dot product of userVector with the scoring vector of
// every item, in item order. userVector must have OutputDim elements.
func (m *Model) Score(userVector []float32) ([]float32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.disposed {
		return nil, ErrDisposed
	}
	if err := m.checkVector(userVector, m.userTower.OutputDim()); err != nil {
		return nil, err
	}
	return m.score(userVector)
}

// ScoreUser scores every item for a known user.
func (m *Model) ScoreUser(userIndex int) ([]float32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.disposed {
		return nil, ErrDisposed
	}
	if err := m.users.Check(userIndex); err != nil {
		return nil, err
	}
	return m.score(m.userVector(userIndex))
}

// Recommend returns the n items with the highest scores for a user in
// descending order, skipping items in exclude. Among tied scores the lower
// index comes first.
func (m *Model) Recommend(userIndex, n int, exclude mapset.Set[int]) ([]int, []float32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.disposed {
		return nil, nil, ErrDisposed
	}
	if n < 0 {
		return nil, nil, errors.Annotatef(ErrInvalidArgument, "negative number of recommendations %d", n)
	}
	if err := m.users.Check(userIndex); err != nil {
		return nil, nil, err
	}
	scores, err := m.score(m.userVector(userIndex))
	if err != nil {
		return nil, nil, err
	}
	filter := heap.NewTopKFilter[int, float32](n)
	for i, score := range scores {
		if exclude == nil || !exclude.Contains(i) {
			filter.Push(i, score)
		}
	}
	items, weights := filter.PopAll()
	return items, weights, nil
}

func (m *Model) checkVector(vector []float32, dim int) error {
	if len(vector) != dim {
		return errors.Annotatef(ErrDimensionMismatch, "vector of length %d, expect %d", len(vector), dim)
	}
	if !floats.IsFinite(vector) {
		return errors.Annotate(ErrInvalidArgument, "vector is not finite")
	}
	return nil
}

func (m *Model) score(userVector []float32) ([]float32, error) {
	start := time.Now()
	items := m.itemTower.Forward(m.items.weight)
	scores := make([]float32, m.numItems)
	err := parallel.BatchParallel(m.numItems, m.jobs, scoreBatchSize, func(_, begin, end int) error {
		for i := begin; i < end; i++ {
			scores[i] = floats.Dot(userVector, items.Row(i))
		}
		return nil
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	OperationSeconds.WithLabelValues("score").Observe(time.Since(start).Seconds())
	return scores, nil
}

func (m *Model) transform(t Transform, store *EmbeddingStore, index int) []float32 {
	x := nn.NewTensor(store.Row(index), 1, store.Dim())
	return append([]float32(nil), t.Forward(x).Row(0)...)
}

func (m *Model) userVector(index int) []float32 {
	return m.transform(m.userTower, m.users, index)
}

// UserVector returns the scoring vector of a user.
func (m *Model) UserVector(userIndex int) ([]float32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.disposed {
		return nil, ErrDisposed
	}
	if err := m.users.Check(userIndex); err != nil {
		return nil, err
	}
	return m.userVector(userIndex), nil
}

// ItemVector returns the scoring vector of an item.
func (m *Model) ItemVector(itemIndex int) ([]float32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.disposed {
		return nil, ErrDisposed
	}
	if err := m.items.Check(itemIndex); err != nil {
		return nil, err
	}
	return m.transform(m.itemTower, m.items, itemIndex), nil
}

// UserEmbedding returns a copy of the raw embedding of a user.
func (m *Model) UserEmbedding(userIndex int) ([]float32, error) {
	return m.embedding(func() *EmbeddingStore { return m.users }, userIndex)
}

// ItemEmbedding returns a copy of the raw embedding of an item.
func (m *Model) ItemEmbedding(itemIndex int) ([]float32, error) {
	return m.embedding(func() *EmbeddingStore { return m.items }, itemIndex)
}

func (m *Model) embedding(store func() *EmbeddingStore, index int) ([]float32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.disposed {
		return nil, ErrDisposed
	}
	s := store()
	if err := s.Check(index); err != nil {
		return nil, err
	}
	return s.Row(index), nil
}

// SetUserEmbedding overwrites the raw embedding of a user. Optimizer moments are kept.
func (m *Model) SetUserEmbedding(userIndex int, embedding []float32) error {
	return m.setEmbedding(func() *EmbeddingStore { return m.users }, userIndex, embedding)
}

// SetItemEmbedding overwrites the raw embedding of an item. Optimizer moments are kept.
func (m *Model) SetItemEmbedding(itemIndex int, embedding []float32) error {
	return m.setEmbedding(func() *EmbeddingStore { return m.items }, itemIndex, embedding)
}

func (m *Model) setEmbedding(store func() *EmbeddingStore, index int, embedding []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return ErrDisposed
	}
	s := store()
	if err := s.Check(index); err != nil {
		return err
	}
	if err := m.checkVector(embedding, m.nFactors); err != nil {
		return err
	}
	s.SetRow(index, embedding)
	return nil
}

// IsUserTrained reports whether a committed step has touched the user.
func (m *Model) IsUserTrained(userIndex int) (bool, error) {
	return m.isTrained(func() *EmbeddingStore { return m.users }, userIndex)
}

// IsItemTrained reports whether a committed step has touched the item.
func (m *Model) IsItemTrained(itemIndex int) (bool, error) {
	return m.isTrained(func() *EmbeddingStore { return m.items }, itemIndex)
}

func (m *Model) isTrained(store func() *EmbeddingStore, index int) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.disposed {
		return false, ErrDisposed
	}
	s := store()
	if err := s.Check(index); err != nil {
		return false, err
	}
	return s.IsTrained(index), nil
}
