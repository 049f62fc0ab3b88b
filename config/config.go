package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type AuthType int

const (
	AuthSimple AuthType = iota
	AuthNTLM
)

type DeleteBehaviour int

const (
	DeleteHard DeleteBehaviour = iota
	DeleteDisable
)

const (
	DefaultSearchTimeout    = 300 * time.Second
	DefaultConnectTimeout   = 30 * time.Second
	DefaultDisableAttribute = "userAccountControl"
	DefaultPort             = 389
	DefaultPageSize         = 500
)

// Settings is the full configuration surface recognized by the sync core.
type Settings struct {
	Host             string
	Port             int
	ConnectTimeout   time.Duration
	SearchTimeout    time.Duration
	Username         string
	Password         string
	AuthType         AuthType
	BaseDN           string
	PageSize         uint32
	CreateContainers bool
	DeleteBehaviour  DeleteBehaviour
	DisableAttribute string
	DatabaseDSN      string
}

// LoadEnvSettings reads settings from the named .env file. Invalid enum
// values and malformed numbers are fatal: a cycle must never start with a
// half-parsed configuration.
func LoadEnvSettings(configName string) Settings {
	err := godotenv.Load(configName)
	if err != nil {
		log.Fatalf("Error loading .env file: %v", err)
	}

	s := Settings{
		Host:             os.Getenv("SYNC_HOST"),
		Port:             DefaultPort,
		ConnectTimeout:   DefaultConnectTimeout,
		SearchTimeout:    DefaultSearchTimeout,
		Username:         os.Getenv("SYNC_USERNAME"),
		Password:         os.Getenv("SYNC_PASSWORD"),
		BaseDN:           os.Getenv("SYNC_BASEDN"),
		PageSize:         DefaultPageSize,
		DisableAttribute: DefaultDisableAttribute,
		DatabaseDSN:      os.Getenv("SYNC_DATABASE_DSN"),
	}

	if v := os.Getenv("SYNC_PORT"); v != "" {
		s.Port, err = strconv.Atoi(v)
		if err != nil {
			log.Fatalf("failed to parse SYNC_PORT: %v", err)
		}
	}
	if v := os.Getenv("SYNC_CONNECT_TIMEOUT_SECONDS"); v != "" {
		s.ConnectTimeout = parseSeconds("SYNC_CONNECT_TIMEOUT_SECONDS", v)
	}
	if v := os.Getenv("SYNC_SEARCH_TIMEOUT_SECONDS"); v != "" {
		s.SearchTimeout = parseSeconds("SYNC_SEARCH_TIMEOUT_SECONDS", v)
	}
	if v := os.Getenv("SYNC_PAGESIZE"); v != "" {
		pageSize, err := strconv.Atoi(v)
		if err != nil {
			log.Fatalf("failed to parse SYNC_PAGESIZE: %v", err)
		}
		s.PageSize = uint32(pageSize)
	}

	s.AuthType, err = ParseAuthType(getenvDefault("SYNC_AUTH_TYPE", "simple"))
	if err != nil {
		log.Fatalf("invalid SYNC_AUTH_TYPE: %v", err)
	}
	s.DeleteBehaviour, err = ParseDeleteBehaviour(getenvDefault("SYNC_DELETE_BEHAVIOUR", "delete"))
	if err != nil {
		log.Fatalf("invalid SYNC_DELETE_BEHAVIOUR: %v", err)
	}
	if v := os.Getenv("SYNC_CREATE_CONTAINERS"); v != "" {
		s.CreateContainers, err = strconv.ParseBool(v)
		if err != nil {
			log.Fatalf("failed to parse SYNC_CREATE_CONTAINERS: %v", err)
		}
	}
	if v := os.Getenv("SYNC_DISABLE_ATTRIBUTE"); v != "" {
		s.DisableAttribute = v
	}

	return s
}

func ParseAuthType(v string) (AuthType, error) {
	switch v {
	case "simple":
		return AuthSimple, nil
	case "ntlm":
		return AuthNTLM, nil
	}
	return AuthSimple, fmt.Errorf("unknown auth type %q (want simple or ntlm)", v)
}

func ParseDeleteBehaviour(v string) (DeleteBehaviour, error) {
	switch v {
	case "delete":
		return DeleteHard, nil
	case "disable":
		return DeleteDisable, nil
	}
	return DeleteHard, fmt.Errorf("unknown delete behaviour %q (want delete or disable)", v)
}

func parseSeconds(name, v string) time.Duration {
	secs, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("failed to parse %s: %v", name, err)
	}
	return time.Duration(secs) * time.Second
}

func getenvDefault(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
