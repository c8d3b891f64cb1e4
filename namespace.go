package asyncredis

import (
	"fmt"
	"strconv"
	"strings"
)

// Namespace prepends "{name}:" to every key and channel sent to the
// server and strips it from keys and channels returned by the server.
// The zero value (and a Namespace with an empty name) is the identity
// translation.
type Namespace struct {
	name   string
	prefix string
	logger Logger
}

const (
	keyspacePrefix = "__keyspace@"
	keyeventPrefix = "__keyevent@"
)

// NewNamespace creates a translator for the given namespace.
func NewNamespace(name string, logger Logger) Namespace {
	if logger == nil {
		logger = NewNilLogger()
	}

	n := Namespace{name: name, logger: logger}
	if name != "" {
		n.prefix = name + ":"
	}

	return n
}

// Name returns the namespace without the separator.
func (n Namespace) Name() string {
	return n.name
}

// Key returns the namespaced form of key.
func (n Namespace) Key(key string) string {
	return n.prefix + key
}

// StripKey removes the namespace from key. The second return value is
// false when key does not belong to this namespace.
func (n Namespace) StripKey(key string) (string, bool) {
	if n.prefix == "" {
		return key, true
	}

	if !strings.HasPrefix(key, n.prefix) {
		return key, false
	}

	return key[len(n.prefix):], true
}

// Channel returns the namespaced form of a channel or pattern name.
// Keyspace notification channels carry the key after the database
// marker, so the prefix is inserted there instead. Keyevent channels
// name an event, not a key, and are left alone.
func (n Namespace) Channel(channel string) string {
	if n.prefix == "" {
		return channel
	}

	if strings.HasPrefix(channel, keyspacePrefix) {
		if i := strings.Index(channel, "__:"); i >= 0 {
			return channel[:i+3] + n.prefix + channel[i+3:]
		}
	}

	if strings.HasPrefix(channel, keyeventPrefix) {
		return channel
	}

	return n.prefix + channel
}

// StripChannel is the inverse of Channel.
func (n Namespace) StripChannel(channel string) (string, bool) {
	if n.prefix == "" {
		return channel, true
	}

	if strings.HasPrefix(channel, keyspacePrefix) {
		if i := strings.Index(channel, "__:"); i >= 0 {
			key, ok := n.StripKey(channel[i+3:])
			return channel[:i+3] + key, ok
		}
	}

	if strings.HasPrefix(channel, keyeventPrefix) {
		return channel, true
	}

	return n.StripKey(channel)
}

// Command returns a copy of cmd with every key-like and channel-like
// argument namespaced. A command whose key positions are not known is
// rejected with ErrUnknownCommand rather than sent with raw keys. The
// identity namespace passes every command through.
func (n Namespace) Command(cmd Command) (Command, error) {
	if n.prefix == "" {
		return cmd, nil
	}

	spec := lookupKeySpec(cmd.Name)
	if spec == keysUnknown {
		return Command{}, fmt.Errorf("%w: %s", ErrUnknownCommand, strings.ToUpper(cmd.Name))
	}

	args := make([]interface{}, len(cmd.Args))
	copy(args, cmd.Args)

	switch spec {
	case keysFirst:
		n.translateRange(args, 0, 1, 1)
	case keysSecond:
		n.translateRange(args, 1, 2, 1)
	case keysFirstTwo:
		n.translateRange(args, 0, 2, 1)
	case keysAll:
		n.translateRange(args, 0, len(args), 1)
	case keysAllButFirst:
		n.translateRange(args, 1, len(args), 1)
	case keysAllButLast:
		n.translateRange(args, 0, len(args)-1, 1)
	case keysAlternate:
		n.translateRange(args, 0, len(args), 2)
	case keysNumbered:
		n.translateNumbered(args, 1)
	case keysNumberedFirst:
		n.translateNumbered(args, 0)
	case keysDestNumbered:
		n.translateRange(args, 0, 1, 1)
		n.translateNumbered(args, 1)
	case keysFirstStore:
		n.translateRange(args, 0, 1, 1)
		n.translateOptions(args, 1, "STORE", "STOREDIST")
	case keysSort:
		n.translateRange(args, 0, 1, 1)
		n.translateSortOptions(args)
	case keysStreams:
		n.translateStreams(args)
	case keysScan:
		args = n.scanArgs(args)
	case channelsFirst:
		if len(args) > 0 {
			args[0] = n.Channel(argString(args[0]))
		}
	case channelsAll:
		for i := range args {
			args[i] = n.Channel(argString(args[i]))
		}
	}

	return Command{Name: cmd.Name, Args: args}, nil
}

// Reply strips the namespace from the keys carried by the reply to cmd.
// Keys outside the namespace are dropped from lists and logged.
func (n Namespace) Reply(cmd Command, reply interface{}) interface{} {
	if n.prefix == "" || reply == nil {
		return reply
	}

	switch lookupReplySpec(cmd.Name) {
	case replyKey:
		return n.stripScalar(reply)

	case replyKeyList:
		if values, ok := reply.([]interface{}); ok {
			return n.stripList(values)
		}

	case replyScan:
		// [cursor, [key, ...]]
		if values, ok := reply.([]interface{}); ok && len(values) == 2 {
			if keys, ok := values[1].([]interface{}); ok {
				return []interface{}{values[0], n.stripList(keys)}
			}
		}

	case replyKeyFirst:
		// [key, value, ...]
		if values, ok := reply.([]interface{}); ok && len(values) >= 2 {
			stripped := make([]interface{}, len(values))
			copy(stripped, values)
			stripped[0] = n.stripScalar(values[0])
			return stripped
		}

	case replyStreams:
		// [[stream, entries], ...]
		if streams, ok := reply.([]interface{}); ok {
			stripped := make([]interface{}, 0, len(streams))
			for _, stream := range streams {
				if pair, ok := stream.([]interface{}); ok && len(pair) == 2 {
					stream = []interface{}{n.stripScalar(pair[0]), pair[1]}
				}

				stripped = append(stripped, stream)
			}

			return stripped
		}
	}

	return reply
}

func (n Namespace) translateRange(args []interface{}, from, to, step int) {
	if to > len(args) {
		to = len(args)
	}

	for i := from; i < to; i += step {
		args[i] = n.Key(argString(args[i]))
	}
}

// Translate the keys counted by the numkeys argument at index at.
func (n Namespace) translateNumbered(args []interface{}, at int) {
	if len(args) <= at {
		return
	}

	if numKeys, err := strconv.Atoi(argString(args[at])); err == nil && numKeys > 0 {
		n.translateRange(args, at+1, at+1+numKeys, 1)
	}
}

// Translate the argument following any of the given option tokens.
func (n Namespace) translateOptions(args []interface{}, from int, options ...string) {
	for i := from; i < len(args)-1; i++ {
		for _, option := range options {
			if strings.EqualFold(argString(args[i]), option) {
				args[i+1] = n.Key(argString(args[i+1]))
				i++
				break
			}
		}
	}
}

// SORT takes key patterns after BY and GET, and a destination after
// STORE. The special patterns "#" and "nosort" name no key.
func (n Namespace) translateSortOptions(args []interface{}) {
	for i := 1; i < len(args)-1; i++ {
		option := strings.ToUpper(argString(args[i]))
		if option != "BY" && option != "GET" && option != "STORE" {
			continue
		}

		i++
		value := argString(args[i])
		if option != "STORE" && (value == "#" || strings.EqualFold(value, "nosort")) {
			continue
		}

		args[i] = n.Key(value)
	}
}

// XREAD and XREADGROUP list every stream key after STREAMS, followed by
// one id per stream.
func (n Namespace) translateStreams(args []interface{}) {
	for i := 0; i < len(args); i++ {
		if strings.EqualFold(argString(args[i]), "STREAMS") {
			rest := len(args) - i - 1
			n.translateRange(args, i+1, i+1+rest/2, 1)
			return
		}
	}
}

// The pattern given to SCAN is namespaced. When no MATCH is given one
// is added so that keys from other namespaces are never returned.
func (n Namespace) scanArgs(args []interface{}) []interface{} {
	for i := 1; i < len(args)-1; i++ {
		if strings.EqualFold(argString(args[i]), "MATCH") {
			args[i+1] = n.Key(argString(args[i+1]))
			return args
		}
	}

	return append(args, "MATCH", n.Key("*"))
}

func (n Namespace) stripList(values []interface{}) []interface{} {
	stripped := make([]interface{}, 0, len(values))
	for _, value := range values {
		if v, ok := n.stripValue(value); ok {
			stripped = append(stripped, v)
		} else {
			n.logger.Warningf("Dropping key %q outside of namespace %q", argString(value), n.name)
		}
	}

	return stripped
}

func (n Namespace) stripScalar(value interface{}) interface{} {
	v, ok := n.stripValue(value)
	if !ok {
		n.logger.Warningf("Key %q is outside of namespace %q", argString(value), n.name)
	}

	return v
}

// Strip a string or bulk reply, preserving its type.
func (n Namespace) stripValue(value interface{}) (interface{}, bool) {
	switch v := value.(type) {
	case string:
		return n.StripKey(v)
	case []byte:
		key, ok := n.StripKey(string(v))
		return []byte(key), ok
	}

	return value, false
}

func argString(arg interface{}) string {
	switch v := arg.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	}

	return fmt.Sprint(arg)
}
