package commons

import (
	"fmt"
)

// ListElem is a node of a doubly linked List.
type ListElem[T any] struct {
	Prev  *ListElem[T]
	Next  *ListElem[T]
	List  *List[T]
	Value T
}

// List is a doubly linked list. The audit uses it as a work queue: items are
// popped from the front and remainders are pushed back to the front.
type List[T any] struct {
	First *ListElem[T]
	Last  *ListElem[T]
	Len   uint64
}

func (l *List[T]) Init() {
	l.First = nil
	l.Last = nil
	l.Len = 0
}

func (l *List[T]) IsEmpty() bool {
	return l.First == nil
}

func (l *List[T]) Foreach(f func(e *ListElem[T])) {
	for v := l.First; v != nil; v = v.Next {
		f(v)
	}
}

func (l *List[T]) AddBack(e *ListElem[T]) {
	if e.Prev != nil || e.Next != nil || e.List != nil {
		panic(fmt.Sprintf("element already in a List! %v", e))
	}
	if l.Last != nil {
		l.Last.Next = e
		e.Prev = l.Last
	} else {
		l.First = e
	}
	l.Last = e
	e.List = l
	l.Len++
}

func (l *List[T]) AddFront(e *ListElem[T]) {
	if l.First == nil {
		l.AddBack(e)
		return
	}
	l.InsertBefore(e, l.First)
}

func (l *List[T]) InsertBefore(toins, elem *ListElem[T]) {
	if elem.List != l {
		panic(fmt.Sprintf("The element is not in the given List %v %v", elem.List, l))
	}
	if toins.Next != nil || toins.Prev != nil || toins.List != nil {
		panic("The provided element is already in a List!")
	}
	oPrev := elem.Prev
	elem.Prev = toins
	toins.Next = elem
	if oPrev != nil {
		oPrev.Next = toins
		toins.Prev = oPrev
	} else {
		if l.First != elem {
			panic("Malformed List, this should have been equal to the elem")
		}
		l.First = toins
	}
	toins.List = l
	l.Len++
}

func (l *List[T]) Remove(e *ListElem[T]) {
	if e.List != l {
		panic(fmt.Sprintf("Removing element not in the correct List %v %v", e, l))
	}
	if l.First == e {
		l.First = e.Next
	} else {
		e.Prev.Next = e.Next
	}
	if l.Last == e {
		l.Last = e.Prev
	} else {
		e.Next.Prev = e.Prev
	}
	e.Next = nil
	e.Prev = nil
	e.List = nil
	l.Len--
}

// PopFront detaches and returns the first element, nil if the list is empty.
func (l *List[T]) PopFront() *ListElem[T] {
	e := l.First
	if e != nil {
		l.Remove(e)
	}
	return e
}

// FromSlice builds a list holding a copy of every value of s, in order.
func FromSlice[T any](s []T) *List[T] {
	l := &List[T]{}
	l.Init()
	for _, v := range s {
		l.AddBack(&ListElem[T]{Value: v})
	}
	return l
}
