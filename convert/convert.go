// Package convert implements the unit Converter of spec.md §4.3: a graph of
// direct conversion edges between units.Units, with Lookup resolving the
// transitive closure (spec.md §8 Property #3) via breadth-first search over
// that graph, in the adjacency-map-plus-mutex style used elsewhere in the
// pack for small in-memory graphs.
package convert

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/SchmidtDSE/josh-sub003/engineval"
	"github.com/SchmidtDSE/josh-sub003/units"
)

// Sentinel errors.
var (
	ErrNoPath       = errors.New("convert: no conversion path between units")
	ErrDuplicateKey = errors.New("convert: conversion already registered for this unit pair")
)

// edge is one direct conversion hop: src units convert to dst units via fn.
type edge struct {
	dst units.Units
	fn  engineval.ConversionFunc
}

// Converter implements engineval.Converter over a directed graph of direct
// conversions, keyed by each unit's canonical CacheKey. Two mutex-protected
// maps separate node bookkeeping from edge storage.
type Converter struct {
	muNodes sync.RWMutex
	nodes   map[string]units.Units

	muEdges sync.RWMutex
	adj     map[string][]edge

	muCache sync.RWMutex
	cache   map[pathKey]engineval.ConversionFunc
}

type pathKey struct {
	src, dst string
}

// New returns an empty Converter with no registered conversions.
func New() *Converter {
	return &Converter{
		nodes: make(map[string]units.Units),
		adj:   make(map[string][]edge),
		cache: make(map[pathKey]engineval.ConversionFunc),
	}
}

// Register adds a direct conversion edge from src to dst. It does not
// register the inverse; call RegisterScale for reciprocal scale
// conversions, or call Register twice for an asymmetric relationship.
func (c *Converter) Register(src, dst units.Units, fn engineval.ConversionFunc) error {
	key := pathKey{src.CacheKey(), dst.CacheKey()}

	c.muEdges.Lock()
	defer c.muEdges.Unlock()
	for _, e := range c.adj[key.src] {
		if e.dst.Equal(dst) {
			return errors.Wrapf(ErrDuplicateKey, "%s -> %s", src, dst)
		}
	}
	c.adj[key.src] = append(c.adj[key.src], edge{dst: dst, fn: fn})

	c.muNodes.Lock()
	c.nodes[src.CacheKey()] = src
	c.nodes[dst.CacheKey()] = dst
	c.muNodes.Unlock()

	c.muCache.Lock()
	c.cache = make(map[pathKey]engineval.ConversionFunc)
	c.muCache.Unlock()
	return nil
}

// RegisterScale registers a reciprocal linear conversion: 1 src == factor
// dst, and 1 dst == 1/factor src. This covers the overwhelming majority of
// physical unit pairs (distance, time, mass) without hand-writing both
// edges and their ConversionFuncs at every call site.
func (c *Converter) RegisterScale(src, dst units.Units, factor decimal.Decimal) error {
	if factor.IsZero() {
		return errors.New("convert: scale factor must be non-zero")
	}
	forward := func(v engineval.EngineValue) (engineval.EngineValue, error) {
		d, err := scalarDecimal(v)
		if err != nil {
			return nil, err
		}
		return engineval.DecimalScalar{Value: d.Mul(factor), U: dst}, nil
	}
	backward := func(v engineval.EngineValue) (engineval.EngineValue, error) {
		d, err := scalarDecimal(v)
		if err != nil {
			return nil, err
		}
		return engineval.DecimalScalar{Value: d.Div(factor), U: src}, nil
	}
	if err := c.Register(src, dst, forward); err != nil {
		return err
	}
	return c.Register(dst, src, backward)
}

func scalarDecimal(v engineval.EngineValue) (decimal.Decimal, error) {
	switch v.Tag() {
	case engineval.TagInt:
		return decimal.NewFromInt(v.(engineval.IntScalar).Value), nil
	case engineval.TagDecimal:
		return v.(engineval.DecimalScalar).Value, nil
	default:
		return decimal.Decimal{}, errors.Errorf("convert: cannot convert %s value", v.Tag())
	}
}

// Lookup implements engineval.Converter. It returns a ConversionFunc that
// converts a value in src units to dst units, resolving a multi-hop path
// through the registered graph if no direct edge exists. Equal units
// resolve to the identity conversion without touching the graph.
func (c *Converter) Lookup(src, dst units.Units) (engineval.ConversionFunc, error) {
	if src.Equal(dst) {
		return func(v engineval.EngineValue) (engineval.EngineValue, error) { return v, nil }, nil
	}

	key := pathKey{src.CacheKey(), dst.CacheKey()}
	c.muCache.RLock()
	if fn, ok := c.cache[key]; ok {
		c.muCache.RUnlock()
		return fn, nil
	}
	c.muCache.RUnlock()

	path, err := c.bfsPath(src, dst)
	if err != nil {
		return nil, err
	}
	fn := composePath(path)

	c.muCache.Lock()
	c.cache[key] = fn
	c.muCache.Unlock()
	return fn, nil
}

// bfsPath finds the shortest chain of edges from src to dst by breadth-
// first search, giving Lookup's transitive closure the fewest intermediate
// conversions (and thus the least accumulated rounding) when more than one
// path exists.
func (c *Converter) bfsPath(src, dst units.Units) ([]edge, error) {
	c.muEdges.RLock()
	defer c.muEdges.RUnlock()

	type frame struct {
		key  string
		path []edge
	}
	visited := map[string]bool{src.CacheKey(): true}
	queue := []frame{{key: src.CacheKey()}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range c.adj[cur.key] {
			ekey := e.dst.CacheKey()
			if visited[ekey] {
				continue
			}
			nextPath := append(append([]edge(nil), cur.path...), e)
			if e.dst.Equal(dst) {
				return nextPath, nil
			}
			visited[ekey] = true
			queue = append(queue, frame{key: ekey, path: nextPath})
		}
	}
	return nil, errors.Wrapf(ErrNoPath, "%s -> %s", src, dst)
}

func composePath(path []edge) engineval.ConversionFunc {
	return func(v engineval.EngineValue) (engineval.EngineValue, error) {
		cur := v
		for _, e := range path {
			next, err := e.fn(cur)
			if err != nil {
				return nil, err
			}
			cur = next
		}
		return cur, nil
	}
}
