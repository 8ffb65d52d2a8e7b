package bpmn

import "fmt"

// Condition is a guard evaluated against an instance's data.
type Condition func(data DataStore) bool

// Flow is a directed edge between two nodes.
type Flow struct {
	ID        string
	Origin    string
	Target    string
	Condition Condition
	Default   bool
}

// Evaluate reports whether the flow's guard holds. A flow without a
// condition always holds.
func (f *Flow) Evaluate(data DataStore) bool {
	if f.Condition == nil {
		return true
	}
	return f.Condition(data)
}

// Always is the condition that always holds.
func Always(DataStore) bool { return true }

// Equals holds when the value stored under key, formatted as a string,
// equals value. A missing key never matches.
func Equals(key, value string) Condition {
	return func(data DataStore) bool {
		v := data.Get(key)
		if v == nil {
			return false
		}
		return fmt.Sprint(v) == value
	}
}

// Not negates a condition.
func Not(c Condition) Condition {
	return func(data DataStore) bool { return !c(data) }
}

// All holds when every condition holds.
func All(cs ...Condition) Condition {
	return func(data DataStore) bool {
		for _, c := range cs {
			if !c(data) {
				return false
			}
		}
		return true
	}
}

// Any holds when at least one condition holds.
func Any(cs ...Condition) Condition {
	return func(data DataStore) bool {
		for _, c := range cs {
			if c(data) {
				return true
			}
		}
		return false
	}
}
