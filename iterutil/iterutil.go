// Package iterutil provides small combinators over iter.Seq, used by
// the cloud exporter to walk cells across several registries in one
// pass.
package iterutil

import (
	"iter"
)

// Map transforms each element of an iterator using f.
func Map[A, B any](seq iter.Seq[A], f func(A) B) iter.Seq[B] {
	return func(yield func(B) bool) {
		for a := range seq {
			if !yield(f(a)) {
				return
			}
		}
	}
}

// Filter yields only the elements for which keep returns true.
func Filter[T any](seq iter.Seq[T], keep func(T) bool) iter.Seq[T] {
	return func(yield func(T) bool) {
		for v := range seq {
			if keep(v) && !yield(v) {
				return
			}
		}
	}
}

// Flatten turns an iterator of iterators into a single iterator over
// all inner elements, in order.
func Flatten[T any](seq iter.Seq[iter.Seq[T]]) iter.Seq[T] {
	return func(yield func(T) bool) {
		for inner := range seq {
			for v := range inner {
				if !yield(v) {
					return
				}
			}
		}
	}
}

// Concat chains multiple iterators into one.
func Concat[T any](seqs ...iter.Seq[T]) iter.Seq[T] {
	return func(yield func(T) bool) {
		for _, seq := range seqs {
			for v := range seq {
				if !yield(v) {
					return
				}
			}
		}
	}
}
