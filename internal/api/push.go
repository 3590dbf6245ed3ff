// push.go implements the release publishing endpoints: direct zip archive
// uploads and build system fetches.
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/manifest-gateway/manifest-gateway/internal/errdefs"
	"github.com/manifest-gateway/manifest-gateway/internal/org"
)

// uploadField is the multipart form field that carries the archive.
const uploadField = "file"

// Publisher is the slice of the gateway orchestrator the handlers drive.
type Publisher interface {
	PublishArchive(ctx context.Context, req org.PublishRequest, archivePath, filename string) (*org.Result, error)
	PublishBuild(ctx context.Context, req org.PublishRequest, nvr string) (*org.Result, error)
	Delete(ctx context.Context, req org.PublishRequest) (*org.DeleteResult, error)
}

// authToken extracts the opaque registry credential from the Authorization
// header. The gateway never inspects it; it is passed through to the registry
// which does its own authentication.
func authToken(c *gin.Context) (string, error) {
	token := c.GetHeader("Authorization")
	if token == "" {
		return "", errdefs.New(errdefs.KindMissingAuthToken,
			"authorization header is required")
	}
	return token, nil
}

// pushRequest assembles the publish request shared by every push and delete
// handler from the route parameters and the Authorization header.
func pushRequest(c *gin.Context) (org.PublishRequest, error) {
	token, err := authToken(c)
	if err != nil {
		return org.PublishRequest{}, err
	}
	return org.PublishRequest{
		Organization: c.Param("organization"),
		Repo:         c.Param("repo"),
		Version:      c.Param("version"),
		Token:        token,
	}, nil
}

// PushZipfileHandler handles archive uploads.
// Implements: POST /v2/:organization/zipfile[/:version]
// and legacy: POST /v1/:organization/:repo/zipfile[/:version]
// Accepts a multipart form with the archive in the "file" field.
func PushZipfileHandler(publisher Publisher) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, err := pushRequest(c)
		if err != nil {
			renderError(c, err)
			return
		}

		upload, header, err := c.Request.FormFile(uploadField)
		if err != nil {
			renderError(c, errdefs.New(errdefs.KindMissingUploadField,
				"no field %q in uploaded data", uploadField))
			return
		}
		defer upload.Close()

		if header.Filename == "" {
			renderError(c, errdefs.New(errdefs.KindMissingUploadField,
				"no selected %q in uploaded data", uploadField))
			return
		}

		archivePath, err := saveUpload(upload)
		if err != nil {
			renderError(c, err)
			return
		}
		defer os.Remove(archivePath)

		res, err := publisher.PublishArchive(c.Request.Context(), req, archivePath, header.Filename)
		if err != nil {
			renderError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// PushKojiHandler handles publishing from a completed build.
// Implements: POST /v2/:organization/koji/:nvr[/:version]
// and legacy: POST /v1/:organization/:repo/koji/:nvr[/:version]
func PushKojiHandler(publisher Publisher) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, err := pushRequest(c)
		if err != nil {
			renderError(c, err)
			return
		}

		res, err := publisher.PublishBuild(c.Request.Context(), req, c.Param("nvr"))
		if err != nil {
			renderError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// DeleteReleaseHandler removes one release version, or every release of the
// repository when the version segment is absent.
// Implements: DELETE /v1|v2/:organization/:repo[/:version]
func DeleteReleaseHandler(publisher Publisher) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, err := pushRequest(c)
		if err != nil {
			renderError(c, err)
			return
		}

		res, err := publisher.Delete(c.Request.Context(), req)
		if err != nil {
			renderError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// saveUpload spools the uploaded archive to a temp file so intake can open it
// with random access. Callers remove the file when done.
func saveUpload(upload io.Reader) (string, error) {
	tmp, err := os.CreateTemp("", "manifest-gateway-upload-*.zip")
	if err != nil {
		return "", fmt.Errorf("spool upload: %w", err)
	}
	_, err = io.Copy(tmp, upload)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("spool upload: %w", err)
	}
	return tmp.Name(), nil
}
