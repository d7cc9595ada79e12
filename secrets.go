package checkpoint

import (
	"sort"
	"strings"
)

// MinSecretLength is the shortest string ever treated as a secret.
// Shorter values such as "true" or "ok" are too common to redact.
const MinSecretLength = 8

// RedactedToken replaces every occurrence of an effective secret.
const RedactedToken = "[secret]"

// secretRegistry maps node ids to the literal values they marked
// sensitive.
type secretRegistry struct {
	byNode map[string]map[string]struct{}
}

func newSecretRegistry() *secretRegistry {
	return &secretRegistry{byNode: make(map[string]map[string]struct{})}
}

// register harvests secrets from the values reached by each dot path.
func (r *secretRegistry) register(nodeID string, container Value, paths []string) {
	for _, path := range paths {
		if found, ok := valueAtPath(container, path); ok {
			r.harvest(nodeID, found)
		}
	}
}

// harvest records every string under v that is long enough to be a
// secret.
func (r *secretRegistry) harvest(nodeID string, v Value) {
	switch v.Kind() {
	case KindString:
		if len(v.Text()) < MinSecretLength {
			return
		}
		set, ok := r.byNode[nodeID]
		if !ok {
			set = make(map[string]struct{})
			r.byNode[nodeID] = set
		}
		set[v.Text()] = struct{}{}
	case KindSequence:
		for i := 0; i < v.Len(); i++ {
			r.harvest(nodeID, v.Index(i))
		}
	case KindMapping:
		for _, item := range v.mapping() {
			r.harvest(nodeID, item)
		}
	}
}

// effective returns the union of secrets registered on the given chain
// of node ids, longest first.
func (r *secretRegistry) effective(chain []string) []string {
	union := make(map[string]struct{})
	for _, id := range chain {
		for s := range r.byNode[id] {
			union[s] = struct{}{}
		}
	}
	secrets := make([]string, 0, len(union))
	for s := range union {
		secrets = append(secrets, s)
	}
	sort.Slice(secrets, func(i, j int) bool {
		if len(secrets[i]) != len(secrets[j]) {
			return len(secrets[i]) > len(secrets[j])
		}
		return secrets[i] < secrets[j]
	})
	return secrets
}

func (r *secretRegistry) forNode(nodeID string) []string {
	return r.effective([]string{nodeID})
}

// valueAtPath descends container by mapping keys.
func valueAtPath(container Value, path string) (Value, bool) {
	current := container
	for _, key := range strings.Split(path, ".") {
		next, ok := current.Get(key)
		if !ok {
			return Value{}, false
		}
		current = next
	}
	return current, true
}

// scrubValue returns a copy of v with every secret replaced by
// RedactedToken in strings and number renderings. secrets must be sorted
// longest first so a longer secret is never partially redacted by a
// shorter one it contains.
func scrubValue(v Value, secrets []string) Value {
	if len(secrets) == 0 {
		return v
	}
	switch v.Kind() {
	case KindString:
		return String(scrubString(v.Text(), secrets))
	case KindNumber:
		if scrubbed := scrubString(v.Text(), secrets); scrubbed != v.Text() {
			return String(scrubbed)
		}
		return v
	case KindSequence:
		items := make([]Value, v.Len())
		for i := range items {
			items[i] = scrubValue(v.Index(i), secrets)
		}
		return Value{kind: KindSequence, seq: items}
	case KindMapping:
		entries := make(map[string]Value, v.Len())
		for k, item := range v.mapping() {
			entries[k] = scrubValue(item, secrets)
		}
		return Value{kind: KindMapping, m: entries}
	}
	return v
}

func scrubString(s string, secrets []string) string {
	for _, secret := range secrets {
		if strings.Contains(s, secret) {
			s = strings.ReplaceAll(s, secret, RedactedToken)
		}
	}
	return s
}

func scrubMetadata(metadata map[string]Value, secrets []string) map[string]Value {
	out := make(map[string]Value, len(metadata))
	for k, item := range metadata {
		out[k] = scrubValue(item, secrets)
	}
	return out
}
