package config

import "os"

func envLookup(key string) string {
	return os.Getenv(key)
}

func isNotExist(err error) bool {
	return os.IsNotExist(err)
}
