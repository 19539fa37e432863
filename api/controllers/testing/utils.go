package testing

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/microsoft/vsts-extension-retrospectives-sub000/auth"
)

// PerformRequest Helper for performing requests in tests.
func PerformRequest(router *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	if body != nil {
		jsonBytes, err := json.Marshal(body)
		if err != nil {
			panic("failed to marshal request body: " + err.Error())
		}
		reqBody = bytes.NewBuffer(jsonBytes)
	} else {
		reqBody = &bytes.Buffer{}
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	return res
}

// BearerFor mints a short-lived token for user so tests can pass the auth
// middleware.
func BearerFor(secret []byte, user string) map[string]string {
	token, err := auth.IssueToken(secret, auth.Claims{
		Sub: user,
		Exp: time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		panic("failed to mint test token: " + err.Error())
	}
	return map[string]string{"Authorization": "Bearer " + token}
}
