package config

import (
	"time"

	"github.com/c2h5oh/datasize"
)

const (
	KV_STORE_NAME     = "hibp_filters"
	SECRET_STORE_NAME = "breach_check_secrets"
	SECRET_API_KEY    = "hibp_api_key"
	METRO_HASH_SEED   = 1337

	RANGE_API_URL  = "https://api.pwnedpasswords.com/range"
	BREACH_API_URL = "https://haveibeenpwned.com/api/v3"
	USER_AGENT     = "compute-breach-check"

	// Names of the Compute backends the edge service sends requests through.
	RANGE_BACKEND  = "pwnedpasswords"
	BREACH_BACKEND = "haveibeenpwned"
	ORIGIN_BACKEND = "origin"

	// Login form whose password the edge service checks before forwarding.
	PASSWORD_FORM_PATH  = "/post"
	PASSWORD_FORM_FIELD = "password"

	LOOKUP_TIMEOUT          = 10 * time.Second
	BREACH_REQUEST_INTERVAL = 1500 * time.Millisecond
	MAX_RESP_SIZE           = 4 * datasize.MB

	HTTP_CLIENT_MAX_RETRY      = 5
	HTTP_CLIENT_RETRY_WAIT_MIN = 1 * time.Second
	HTTP_CLIENT_RETRY_WAIT_MAX = 30 * time.Second

	// Number of range requests the uploader keeps in flight.
	UPLOAD_PARALLELISM = 16
)
