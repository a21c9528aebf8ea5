package utils

import (
	"context"

	"github.com/gin-gonic/gin"
)

type CustomContext struct {
	AppSource string
	Operator  string
	MailboxID string
}

type customContextKeyType string

const customContextKey customContextKeyType = "CUSTOM_CONTEXT"

func WithCustomContext(ctx context.Context, customContext *CustomContext) context.Context {
	return context.WithValue(ctx, customContextKey, customContext)
}

func WithCustomContextFromGinRequest(c *gin.Context, appSource string) context.Context {
	customContext := &CustomContext{
		AppSource: appSource,
		Operator:  c.GetString("Operator"),
	}
	return WithCustomContext(c.Request.Context(), customContext)
}

func GetContext(ctx context.Context) *CustomContext {
	customContext, ok := ctx.Value(customContextKey).(*CustomContext)
	if !ok {
		return new(CustomContext)
	}
	return customContext
}

func GetOperatorFromContext(ctx context.Context) string {
	return GetContext(ctx).Operator
}

func SetMailboxIDInContext(ctx context.Context, mailboxID string) context.Context {
	customContext := *GetContext(ctx)
	customContext.MailboxID = mailboxID
	return WithCustomContext(ctx, &customContext)
}
