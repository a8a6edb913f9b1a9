package elasticsearch

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/elastic/go-elasticsearch/v8/typedapi/types"
	"hermannm.dev/wrap"
)

func formatElasticError(err error) error {
	elasticErr, ok := err.(*types.ElasticsearchError)
	if !ok {
		return err
	}

	var errMessage string
	if elasticErr.ErrorCause.Reason == nil {
		errMessage = fmt.Sprintf("%s (status %d)", elasticErr.ErrorCause.Type, elasticErr.Status)
	} else {
		errMessage = fmt.Sprintf(
			"%s (%s, status %d)",
			*elasticErr.ErrorCause.Reason, elasticErr.ErrorCause.Type, elasticErr.Status,
		)
	}

	rootCause := make([]error, len(elasticErr.ErrorCause.RootCause))
	for i, cause := range elasticErr.ErrorCause.RootCause {
		if cause.Reason == nil {
			rootCause[i] = errors.New(cause.Type)
		} else {
			rootCause[i] = fmt.Errorf("%s (%s)", *cause.Reason, cause.Type)
		}
	}

	if len(rootCause) == 0 {
		return errors.New(errMessage)
	} else {
		return wrap.Errors(errMessage, rootCause...)
	}
}

// Reads the error body of a failed search response. Falls back to the raw body if it is not an
// Elasticsearch error object.
func readElasticError(body io.Reader, statusCode int) error {
	rawBody, err := io.ReadAll(body)
	if err != nil {
		return wrap.Errorf(err, "failed to read error response (status %d)", statusCode)
	}

	elasticErr := new(types.ElasticsearchError)
	if err := json.Unmarshal(rawBody, elasticErr); err != nil || elasticErr.ErrorCause.Type == "" {
		return fmt.Errorf("request failed with status %d: %s", statusCode, rawBody)
	}
	if elasticErr.Status == 0 {
		elasticErr.Status = statusCode
	}

	return formatElasticError(elasticErr)
}
