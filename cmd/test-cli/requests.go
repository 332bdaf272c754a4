package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func sendJSONRequest(method, endpoint string, payload, dst any) error {
	var body io.Reader
	var payloadBytes []byte
	if payload != nil {
		var err error
		payloadBytes, err = json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(payloadBytes)
	}

	fetchLog := log.WithField("endpoint", endpoint).WithField("method", method)
	fetchLog.WithField("bytes", len(payloadBytes)).Debug("sending request")
	req, err := http.NewRequest(method, endpoint, body)
	if err != nil {
		fetchLog.WithError(err).Error("could not prepare request")
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fetchLog.WithError(err).Error("could not send request")
		return err
	}
	defer func() {
		if err = resp.Body.Close(); err != nil {
			fetchLog.WithError(err).Error("could not close body")
		}
	}()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	fetchLog.WithField("bodyBytes", string(bodyBytes)).Debug("got response")

	if resp.StatusCode >= http.StatusMultipleChoices {
		errResp := new(errorResponse)
		if err := json.Unmarshal(bodyBytes, errResp); err != nil || errResp.Message == "" {
			return fmt.Errorf("HTTP error response: %d / %s", resp.StatusCode, string(bodyBytes))
		}
		return fmt.Errorf("HTTP error response: %d / %s", errResp.Code, errResp.Message)
	}

	if dst != nil {
		if err = json.Unmarshal(bodyBytes, dst); err != nil {
			fetchLog.WithField("response", string(bodyBytes)).WithError(err).Error("could not unmarshal response")
			return err
		}
	}
	return nil
}
