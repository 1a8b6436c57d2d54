// internal/api/response.go
package api

import (
	"encoding/json"

	"github.com/aws/aws-lambda-go/events"
)

// Respond encodes body as the JSON response for an HTTP-style request.
func Respond(statusCode int, body any) (events.APIGatewayV2HTTPResponse, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return events.APIGatewayV2HTTPResponse{
			StatusCode: 500,
			Headers:    responseHeaders(),
			Body:       `{"error":"failed to encode response"}`,
		}, nil
	}
	return events.APIGatewayV2HTTPResponse{
		StatusCode: statusCode,
		Headers:    responseHeaders(),
		Body:       string(encoded),
	}, nil
}

// Error returns the structured error shape with an HTTP-equivalent status.
func Error(statusCode int, message string) (events.APIGatewayV2HTTPResponse, error) {
	return Respond(statusCode, map[string]string{"error": message})
}

func responseHeaders() map[string]string {
	return map[string]string{
		"Content-Type":                "application/json",
		"Access-Control-Allow-Origin": "*",
	}
}
