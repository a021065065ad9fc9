// Package response writes the api envelope for the upload surface.
// Handlers, middleware and the webhook endpoint all reply through it so
// clients see one {code, msg, data} shape.
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/webapi/proxyutil"

	"github.com/xxxsen/docpipe/internal/pkg/errcode"
)

func Success(c *gin.Context, data interface{}) {
	proxyutil.SuccessJson(c, data)
}

// Error replies with a business error code. The transport status stays
// 200; clients dispatch on the envelope code.
func Error(c *gin.Context, code int, message string) {
	proxyutil.FailJson(c, http.StatusOK, errcode.New(code, message))
}
