// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ctxmutex

import (
	"context"

	cmap "github.com/orcaman/concurrent-map/v2"
	"golang.org/x/sync/semaphore"
)

// CtxMutex is a context aware Mutex
// It uses a semaphore to allow for context cancellation
// The semaphore is initialized with a weight of 1, so it acts as a mutex
type CtxMutex struct {
	sem *semaphore.Weighted
}

func NewCtxMutex() *CtxMutex {
	return &CtxMutex{
		sem: semaphore.NewWeighted(1),
	}
}

// Lock locks the mutex, giving up when ctx is done
func (m *CtxMutex) Lock(ctx context.Context) error {
	return m.sem.Acquire(ctx, 1)
}

// TryLock locks the mutex without waiting and reports whether it succeeded
func (m *CtxMutex) TryLock() bool {
	return m.sem.TryAcquire(1)
}

// Unlock unlocks the mutex
func (m *CtxMutex) Unlock() {
	m.sem.Release(1)
}

// KeyedMutex hands out one CtxMutex per key. Mutexes are created on first
// use and kept for the lifetime of the KeyedMutex; the key space is the set
// of service names, which stays small.
type KeyedMutex struct {
	locks cmap.ConcurrentMap[string, *CtxMutex]
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: cmap.New[*CtxMutex]()}
}

func (k *KeyedMutex) get(key string) *CtxMutex {
	return k.locks.Upsert(key, nil, func(exist bool, valueInMap *CtxMutex, _ *CtxMutex) *CtxMutex {
		if exist {
			return valueInMap
		}

		return NewCtxMutex()
	})
}

// Lock acquires the mutex for key and returns the function releasing it.
func (k *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	m := k.get(key)
	if err := m.Lock(ctx); err != nil {
		return nil, err
	}

	return m.Unlock, nil
}

// Len returns the number of keys a mutex has been created for.
func (k *KeyedMutex) Len() int {
	return k.locks.Count()
}
