package host

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/moc-dev/moc-runtime/config"
	"github.com/moc-dev/moc-runtime/domain/entities"
)

// Bootstrap installs the blobs, routes and filters of b. Blobs are
// registered first so routes and filters may name them. Re-running it
// converges: blobs dedupe by content, routes replace, filters dedupe.
func (r *Runtime) Bootstrap(b config.Bootstrap) error {
	for _, spec := range b.Blobs {
		content, err := os.ReadFile(spec.File)
		if err != nil {
			return fmt.Errorf("bootstrap blob %s: %w", spec.Name, err)
		}
		contentType := spec.ContentType
		if contentType == "" {
			contentType = DetectContentType(spec.File, content)
		}
		id, err := r.svc.Blobs.RegisterWithName(spec.Name, contentType, content)
		if err != nil {
			return fmt.Errorf("bootstrap blob %s: %w", spec.Name, err)
		}
		r.logger.Info("blob installed",
			zap.String("name", spec.Name),
			zap.String("tech_id", id),
			zap.String("content_type", contentType),
		)
	}

	for _, spec := range b.Routes {
		h := entities.RouteHandler{
			Kind:       entities.HandlerFunction,
			Module:     spec.Module,
			EntryPoint: spec.EntryPoint,
			Data:       spec.Data,
			Tags:       spec.Tags,
		}
		if spec.Blob != "" {
			h = entities.RouteHandler{Kind: entities.HandlerStaticBlob, Blob: spec.Blob}
		}
		if err := r.svc.Routes.Plug(spec.Method, spec.Path, h); err != nil {
			return fmt.Errorf("bootstrap route %s %s: %w", spec.Method, spec.Path, err)
		}
	}

	for _, spec := range b.Filters {
		if _, err := r.svc.Filters.Plug(spec.Module, spec.EntryPoint, spec.Data); err != nil {
			return fmt.Errorf("bootstrap filter %s.%s: %w", spec.Module, spec.EntryPoint, err)
		}
	}
	return nil
}

// DetectContentType guesses the content type of a file, by extension first
// and by sniffing the content otherwise.
func DetectContentType(name string, content []byte) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return mimetype.Detect(content).String()
}
