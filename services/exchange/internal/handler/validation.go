package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// CreateExchangeRequest 교환 요청 생성 본문
type CreateExchangeRequest struct {
	OrderID           string `json:"orderId" validate:"required,max=64"`
	OrderItemID       string `json:"orderItemId" validate:"required,max=64"`
	CustomerID        string `json:"customerId" validate:"omitempty,max=64"`
	ReturnProductID   string `json:"returnProductId" validate:"required,max=64"`
	ExchangeProductID string `json:"exchangeProductId" validate:"required,max=64"`
	Quantity          int    `json:"quantity" validate:"required,min=1"`
	Reason            string `json:"reason" validate:"max=500"`
	Description       string `json:"description" validate:"max=2000"`
}

// DecisionRequest 승인/거절 본문 (선택)
type DecisionRequest struct {
	Notes string `json:"notes" validate:"max=1000"`
}

// newValidator 요청 검증기
func newValidator() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
}

// bindAndValidate JSON 바인딩 + 검증. 실패하면 400 을 쓰고 에러를 반환
func bindAndValidate(c *gin.Context, out interface{}, v *validator.Validate) error {
	if err := c.ShouldBindJSON(out); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid request body: " + err.Error(),
			Code:  "INVALID_REQUEST",
		})
		return err
	}
	return validate(c, out, v)
}

// bindOptional 본문이 없으면 바인딩을 생략
func bindOptional(c *gin.Context, out interface{}, v *validator.Validate) error {
	if c.Request.ContentLength == 0 {
		return nil
	}
	return bindAndValidate(c, out, v)
}

func validate(c *gin.Context, out interface{}, v *validator.Validate) error {
	if err := v.Struct(out); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:  "validation failed",
			Code:   "INVALID_REQUEST",
			Fields: fieldErrors(err),
		})
		return err
	}
	return nil
}

func fieldErrors(err error) map[string]string {
	out := map[string]string{}
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			out[fe.Field()] = fe.Tag()
		}
		return out
	}
	out["error"] = err.Error()
	return out
}
