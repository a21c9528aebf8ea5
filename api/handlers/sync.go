package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	"github.com/customeros/rfqstack/interfaces"
)

// SyncStates handles GET /v1/sync-states: the last committed UID per folder of the
// polled mailbox.
func SyncStates(repo interfaces.MailboxSyncRepository, mailboxID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "SyncStates")
		defer span.Finish()

		marks, err := repo.GetMailboxSyncStates(ctx, mailboxID)
		if err != nil {
			respondError(c, span, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"mailboxId": mailboxID, "folders": marks})
	}
}

type FolderResetter interface {
	ResetFolder(ctx context.Context, folder string) error
}

// ResetSyncState handles DELETE /v1/sync-states/:folder. The folder is rescanned on the
// next poll cycle without creating duplicate requests.
func ResetSyncState(resetter FolderResetter) gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "ResetSyncState")
		defer span.Finish()

		folder := strings.TrimSpace(c.Param("folder"))
		span.LogKV("folder", folder)
		if err := resetter.ResetFolder(ctx, folder); err != nil {
			respondError(c, span, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"folder": folder, "status": "reset"})
	}
}
