package config

import (
	"os"
	"strconv"
)

const DATABASE_TYPE = "BIDFLOW_DATABASE_TYPE"
const DATABASE_URL = "BIDFLOW_DATABASE_URL"
const DATABASE_SQLLITE_FILE_NAME = "BIDFLOW_DATABASE_SQLLITE_FILE_NAME"
const SERVER_WEB_PORT = "BIDFLOW_SERVER_WEB_PORT"
const DISPATCH_QUEUE_SIZE = "BIDFLOW_DISPATCH_QUEUE_SIZE"   //buffered handoff between scheduler and dispatch workers
const DISPATCH_WORKER_SIZE = "BIDFLOW_DISPATCH_WORKER_SIZE" //number of dispatch workers ie the parallel nature of handoffs
const SWEEP_INTERVAL = "BIDFLOW_SWEEP_INTERVAL"
const EXECUTOR_STALE_AFTER = "BIDFLOW_EXECUTOR_STALE_AFTER"
const RETRY_MAX_ATTEMPTS = "BIDFLOW_RETRY_MAX_ATTEMPTS"
const RETRY_INITIAL_INTERVAL = "BIDFLOW_RETRY_INITIAL_INTERVAL"
const RETRY_MAX_INTERVAL = "BIDFLOW_RETRY_MAX_INTERVAL"
const NATS_URL = "BIDFLOW_NATS_URL"
const PROCESS_FILE = "BIDFLOW_PROCESS_FILE" //optional yaml override of the built in procurement process

const DATABASE_TYPE_POSTGRES = "POSTGRES"
const DATABASE_TYPE_MYSQL = "MYSQL"
const DATABASE_TYPE_SQLLITE = "SQLLITE"

func GetSystemSettingInteger(settingKey string) int {
	val := GetSystemSettingString(settingKey)
	if val != "" {
		intValue, _ := strconv.Atoi(val)
		return intValue
	}
	return 0
}

func GetSystemSettingString(settingKey string) string {
	val := os.Getenv(settingKey)
	if val != "" {
		return val
	}
	if settingKey == SWEEP_INTERVAL {
		return "5s"
	}
	if settingKey == DISPATCH_QUEUE_SIZE {
		return "64"
	}
	if settingKey == DISPATCH_WORKER_SIZE {
		return "5"
	}
	if settingKey == EXECUTOR_STALE_AFTER {
		return "2m"
	}
	if settingKey == RETRY_MAX_ATTEMPTS {
		return "5"
	}
	if settingKey == RETRY_INITIAL_INTERVAL {
		return "30s"
	}
	if settingKey == RETRY_MAX_INTERVAL {
		return "30m"
	}
	if settingKey == SERVER_WEB_PORT {
		return "8080"
	}
	if settingKey == DATABASE_SQLLITE_FILE_NAME {
		return "./bidflow.db"
	}
	return ""
}
