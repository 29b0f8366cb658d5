package lib

import (
	"context"
	"log"
	"thruster/src/config"
	"time"

	"github.com/redis/go-redis/v9"
)

var redisClient *redis.Client

func GetRedisClient() *redis.Client {
	if redisClient != nil {
		return redisClient
	}
	redisHost := config.Get().RedisURL
	opt, err := redis.ParseURL(redisHost)
	if err != nil {
		log.Printf("[redis] Error parsing connection string: %s\n", err.Error())
		return nil
	}
	rdb := redis.NewClient(opt)
	redisClient = rdb
	return rdb
}

// AcquireLease sets key to owner for ttl unless another holder already owns it.
func AcquireLease(ctx context.Context, rdb *redis.Client, key, owner string, ttl time.Duration) (bool, error) {
	return rdb.SetNX(ctx, key, owner, ttl).Result()
}

// ReleaseLeaseScript deletes KEYS[1] only while it still holds ARGV[1].
var ReleaseLeaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// ReleaseLease gives up key if owner still holds it. A lease that expired and
// was taken by another holder is left alone.
func ReleaseLease(ctx context.Context, rdb *redis.Client, key, owner string) {
	n, err := ReleaseLeaseScript.Run(ctx, rdb, []string{key}, owner).Int()
	if err != nil {
		log.Printf("[redis] Failed to release %s: %s\n", key, err.Error())
		return
	}
	if n == 0 {
		log.Printf("[redis] Lease %s expired before release\n", key)
	}
}
