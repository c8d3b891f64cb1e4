package asyncredis

import "strings"

type (
	// Command is a struct that bundles the command and the command arguments
	// together to be used in a pipeline or transaction.
	Command struct {
		Name string
		Args []interface{}
	}

	// keySpec describes which arguments of a command name keys or channels.
	keySpec int

	// replySpec describes which parts of a reply carry keys.
	replySpec int
)

const (
	keysUnknown keySpec = iota
	keysNone
	keysFirst
	keysSecond
	keysFirstTwo
	keysAll
	keysAllButFirst
	keysAllButLast
	keysAlternate
	keysNumbered
	keysNumberedFirst
	keysDestNumbered
	keysFirstStore
	keysSort
	keysStreams
	keysScan
	channelsFirst
	channelsAll
)

const (
	replyPlain replySpec = iota
	replyKey
	replyKeyList
	replyScan
	replyKeyFirst
	replyStreams
)

// NewCommand creates a Command instance.
func NewCommand(name string, args ...interface{}) Command {
	return Command{
		Name: name,
		Args: args,
	}
}

var commandKeys = map[string]keySpec{
	// connection and server
	"PING":     keysNone,
	"ECHO":     keysNone,
	"INFO":     keysNone,
	"DBSIZE":   keysNone,
	"TIME":     keysNone,
	"LASTSAVE": keysNone,
	"ROLE":     keysNone,
	"WAIT":     keysNone,
	"COMMAND":  keysNone,

	// transactions and scripts
	"MULTI":   keysNone,
	"EXEC":    keysNone,
	"DISCARD": keysNone,
	"UNWATCH": keysNone,
	"SCRIPT":  keysNone,

	// strings
	"GET":         keysFirst,
	"SET":         keysFirst,
	"SETNX":       keysFirst,
	"SETEX":       keysFirst,
	"PSETEX":      keysFirst,
	"GETSET":      keysFirst,
	"GETDEL":      keysFirst,
	"GETEX":       keysFirst,
	"APPEND":      keysFirst,
	"STRLEN":      keysFirst,
	"INCR":        keysFirst,
	"INCRBY":      keysFirst,
	"INCRBYFLOAT": keysFirst,
	"DECR":        keysFirst,
	"DECRBY":      keysFirst,
	"GETRANGE":    keysFirst,
	"SETRANGE":    keysFirst,
	"SUBSTR":      keysFirst,
	"LCS":         keysFirstTwo,
	"MGET":        keysAll,
	"MSET":        keysAlternate,
	"MSETNX":      keysAlternate,

	// bitmaps and hyperloglogs
	"SETBIT":      keysFirst,
	"GETBIT":      keysFirst,
	"BITCOUNT":    keysFirst,
	"BITPOS":      keysFirst,
	"BITFIELD":    keysFirst,
	"BITFIELD_RO": keysFirst,
	"BITOP":       keysAllButFirst,
	"PFADD":       keysFirst,
	"PFCOUNT":     keysAll,
	"PFMERGE":     keysAll,

	// generic
	"DEL":         keysAll,
	"UNLINK":      keysAll,
	"EXISTS":      keysAll,
	"TOUCH":       keysAll,
	"WATCH":       keysAll,
	"TYPE":        keysFirst,
	"EXPIRE":      keysFirst,
	"PEXPIRE":     keysFirst,
	"EXPIREAT":    keysFirst,
	"PEXPIREAT":   keysFirst,
	"EXPIRETIME":  keysFirst,
	"PEXPIRETIME": keysFirst,
	"PERSIST":     keysFirst,
	"TTL":         keysFirst,
	"PTTL":        keysFirst,
	"DUMP":        keysFirst,
	"RESTORE":     keysFirst,
	"RENAME":      keysFirstTwo,
	"RENAMENX":    keysFirstTwo,
	"COPY":        keysFirstTwo,
	"OBJECT":      keysSecond,
	"MEMORY":      keysSecond,
	"SORT":        keysSort,
	"SORT_RO":     keysSort,
	"KEYS":        keysFirst,
	"SCAN":        keysScan,
	"RANDOMKEY":   keysNone,

	// hashes
	"HSET":         keysFirst,
	"HSETNX":       keysFirst,
	"HGET":         keysFirst,
	"HMSET":        keysFirst,
	"HMGET":        keysFirst,
	"HDEL":         keysFirst,
	"HLEN":         keysFirst,
	"HSTRLEN":      keysFirst,
	"HEXISTS":      keysFirst,
	"HKEYS":        keysFirst,
	"HVALS":        keysFirst,
	"HGETALL":      keysFirst,
	"HINCRBY":      keysFirst,
	"HINCRBYFLOAT": keysFirst,
	"HRANDFIELD":   keysFirst,
	"HSCAN":        keysFirst,

	// lists
	"LPUSH":      keysFirst,
	"RPUSH":      keysFirst,
	"LPUSHX":     keysFirst,
	"RPUSHX":     keysFirst,
	"LPOP":       keysFirst,
	"RPOP":       keysFirst,
	"LLEN":       keysFirst,
	"LRANGE":     keysFirst,
	"LINDEX":     keysFirst,
	"LSET":       keysFirst,
	"LREM":       keysFirst,
	"LTRIM":      keysFirst,
	"LINSERT":    keysFirst,
	"LPOS":       keysFirst,
	"RPOPLPUSH":  keysFirstTwo,
	"BRPOPLPUSH": keysFirstTwo,
	"LMOVE":      keysFirstTwo,
	"BLMOVE":     keysFirstTwo,
	"LMPOP":      keysNumberedFirst,
	"BLMPOP":     keysNumbered,
	"BLPOP":      keysAllButLast,
	"BRPOP":      keysAllButLast,

	// sets
	"SADD":        keysFirst,
	"SREM":        keysFirst,
	"SMEMBERS":    keysFirst,
	"SISMEMBER":   keysFirst,
	"SMISMEMBER":  keysFirst,
	"SCARD":       keysFirst,
	"SPOP":        keysFirst,
	"SRANDMEMBER": keysFirst,
	"SSCAN":       keysFirst,
	"SMOVE":       keysFirstTwo,
	"SINTER":      keysAll,
	"SUNION":      keysAll,
	"SDIFF":       keysAll,
	"SINTERSTORE": keysAll,
	"SUNIONSTORE": keysAll,
	"SDIFFSTORE":  keysAll,
	"SINTERCARD":  keysNumberedFirst,

	// sorted sets
	"ZADD":             keysFirst,
	"ZREM":             keysFirst,
	"ZCARD":            keysFirst,
	"ZSCORE":           keysFirst,
	"ZMSCORE":          keysFirst,
	"ZINCRBY":          keysFirst,
	"ZRANGE":           keysFirst,
	"ZREVRANGE":        keysFirst,
	"ZRANGEBYSCORE":    keysFirst,
	"ZREVRANGEBYSCORE": keysFirst,
	"ZRANGEBYLEX":      keysFirst,
	"ZREVRANGEBYLEX":   keysFirst,
	"ZLEXCOUNT":        keysFirst,
	"ZRANK":            keysFirst,
	"ZREVRANK":         keysFirst,
	"ZCOUNT":           keysFirst,
	"ZPOPMIN":          keysFirst,
	"ZPOPMAX":          keysFirst,
	"ZRANDMEMBER":      keysFirst,
	"ZREMRANGEBYSCORE": keysFirst,
	"ZREMRANGEBYRANK":  keysFirst,
	"ZREMRANGEBYLEX":   keysFirst,
	"ZSCAN":            keysFirst,
	"ZRANGESTORE":      keysFirstTwo,
	"BZPOPMIN":         keysAllButLast,
	"BZPOPMAX":         keysAllButLast,
	"ZUNIONSTORE":      keysDestNumbered,
	"ZINTERSTORE":      keysDestNumbered,
	"ZDIFFSTORE":       keysDestNumbered,
	"ZUNION":           keysNumberedFirst,
	"ZINTER":           keysNumberedFirst,
	"ZDIFF":            keysNumberedFirst,
	"ZINTERCARD":       keysNumberedFirst,
	"ZMPOP":            keysNumberedFirst,
	"BZMPOP":           keysNumbered,

	// streams
	"XADD":       keysFirst,
	"XLEN":       keysFirst,
	"XRANGE":     keysFirst,
	"XREVRANGE":  keysFirst,
	"XDEL":       keysFirst,
	"XTRIM":      keysFirst,
	"XACK":       keysFirst,
	"XCLAIM":     keysFirst,
	"XAUTOCLAIM": keysFirst,
	"XPENDING":   keysFirst,
	"XSETID":     keysFirst,
	"XGROUP":     keysSecond,
	"XINFO":      keysSecond,
	"XREAD":      keysStreams,
	"XREADGROUP": keysStreams,

	// geo
	"GEOADD":               keysFirst,
	"GEOPOS":               keysFirst,
	"GEODIST":              keysFirst,
	"GEOHASH":              keysFirst,
	"GEOSEARCH":            keysFirst,
	"GEORADIUS_RO":         keysFirst,
	"GEORADIUSBYMEMBER_RO": keysFirst,
	"GEORADIUS":            keysFirstStore,
	"GEORADIUSBYMEMBER":    keysFirstStore,
	"GEOSEARCHSTORE":       keysFirstTwo,

	// scripting
	"EVAL":       keysNumbered,
	"EVALSHA":    keysNumbered,
	"EVAL_RO":    keysNumbered,
	"EVALSHA_RO": keysNumbered,
	"FCALL":      keysNumbered,
	"FCALL_RO":   keysNumbered,

	// pub/sub
	"PUBLISH":      channelsFirst,
	"SUBSCRIBE":    channelsAll,
	"UNSUBSCRIBE":  channelsAll,
	"PSUBSCRIBE":   channelsAll,
	"PUNSUBSCRIBE": channelsAll,
}

var commandReplies = map[string]replySpec{
	"KEYS":       replyKeyList,
	"SCAN":       replyScan,
	"RANDOMKEY":  replyKey,
	"BLPOP":      replyKeyFirst,
	"BRPOP":      replyKeyFirst,
	"BZPOPMIN":   replyKeyFirst,
	"BZPOPMAX":   replyKeyFirst,
	"LMPOP":      replyKeyFirst,
	"BLMPOP":     replyKeyFirst,
	"ZMPOP":      replyKeyFirst,
	"BZMPOP":     replyKeyFirst,
	"XREAD":      replyStreams,
	"XREADGROUP": replyStreams,
}

// Commands missing from the table are keysUnknown.
func lookupKeySpec(name string) keySpec {
	return commandKeys[strings.ToUpper(name)]
}

func lookupReplySpec(name string) replySpec {
	return commandReplies[strings.ToUpper(name)]
}
