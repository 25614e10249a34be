package logging

import (
	"time"
)

// Common field constructors
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

func Any(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Election-specific helpers

func Component(name string) Field {
	return String("component", name)
}

func InstanceID(id int) Field {
	return Int("instance_id", id)
}

func LeaderID(id int) Field {
	return Int("leader_id", id)
}

func Candidate(id int) Field {
	return Int("candidate", id)
}

func Kind(kind string) Field {
	return String("kind", kind)
}

func Algorithm(name string) Field {
	return String("algorithm", name)
}

func Round(id string) Field {
	return String("round", id)
}

func State(s string) Field {
	return String("state", s)
}

func Latency(d time.Duration) Field {
	return Duration("latency", d)
}

func Count(n int) Field {
	return Int("count", n)
}
