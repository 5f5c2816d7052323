package redis_client

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/urbantracker/urbantracker-driver/pkg/util"
)

var Client *redis.Client

const defaultConnectionAddress = "localhost:6379"
const defaultConnectionPassword = ""
const defaultDatabase = 0

// Configured reports whether a redis address was supplied, redis is optional for the driver
func Configured() bool {
	return util.GetEnvironmentVariables()["URBANTRACKER_REDIS_ADDRESS"] != ""
}

func Connect() error {
	address := defaultConnectionAddress
	password := defaultConnectionPassword
	database := defaultDatabase

	env := util.GetEnvironmentVariables()

	if env["URBANTRACKER_REDIS_ADDRESS"] != "" {
		address = env["URBANTRACKER_REDIS_ADDRESS"]
	}

	if env["URBANTRACKER_REDIS_PASSWORD"] != "" {
		password = env["URBANTRACKER_REDIS_PASSWORD"]
	}

	if env["URBANTRACKER_REDIS_DATABASE"] != "" {
		if n, err := strconv.Atoi(env["URBANTRACKER_REDIS_DATABASE"]); err == nil {
			database = n
		} else {
			return err
		}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     address,
		Password: password,
		DB:       database,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return err
	}

	Client = client

	return nil
}
