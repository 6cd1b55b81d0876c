package domain

import "github.com/gin-gonic/gin"

// BackendHttpGetHandler handles HTTP requests for one endpoint of the backend API.
type BackendHttpGetHandler interface {
	// HandleRequest handles a message/request from the front-end.
	HandleRequest(*gin.Context)
}
