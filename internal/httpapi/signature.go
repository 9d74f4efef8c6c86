package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/twilio/twilio-go/client"

	"leasing-telephony/pkg/logger"
)

const headerTwilioSignature = "X-Twilio-Signature"

// RequireProviderSignature rejects webhooks not signed with the account's auth token.
// publicBaseURL is the externally visible origin the provider was given, since the
// signature covers the full URL it called. An empty auth token disables the check.
func RequireProviderSignature(authToken, publicBaseURL string) gin.HandlerFunc {
	if authToken == "" {
		return func(c *gin.Context) { c.Next() }
	}
	validator := client.NewRequestValidator(authToken)
	base := strings.TrimRight(publicBaseURL, "/")

	return func(c *gin.Context) {
		if err := c.Request.ParseForm(); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
			return
		}
		params := make(map[string]string, len(c.Request.PostForm))
		for k, v := range c.Request.PostForm {
			if len(v) > 0 {
				params[k] = v[0]
			}
		}
		if !validator.Validate(base+c.Request.URL.RequestURI(), params, c.GetHeader(headerTwilioSignature)) {
			logger.FromGin(c).Warn("webhook signature mismatch", "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
			return
		}
		c.Next()
	}
}
