package handler

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/eledia/assessmentreport/internal/handler/views"
	appI18n "github.com/eledia/assessmentreport/internal/i18n"
	"github.com/eledia/assessmentreport/internal/model"
	"github.com/eledia/assessmentreport/internal/store"
)

const maxSnapshotSize = 32 << 20

var validate = validator.New()

type viewerForm struct {
	Username    string `validate:"required,max=100"`
	DisplayName string `validate:"max=255"`
	Password    string `validate:"required,min=8"`
	Role        string `validate:"oneof=admin teacher"`
	LMSUserID   int64  `validate:"gte=0"`
}

func (h *Handler) renderViewersPage(w http.ResponseWriter, r *http.Request, status int, errMsg string) {
	viewers, err := h.store.ListViewers(r.Context())
	if err != nil {
		slog.Error("failed to list viewers", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := views.AdminViewersPage(viewers, errMsg).Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}

func (h *Handler) handleAdminViewersPage(w http.ResponseWriter, r *http.Request) {
	h.renderViewersPage(w, r, http.StatusOK, "")
}

func (h *Handler) handleCreateViewer(w http.ResponseWriter, r *http.Request) {
	form := viewerForm{
		Username:    strings.TrimSpace(r.FormValue("username")),
		DisplayName: strings.TrimSpace(r.FormValue("display_name")),
		Password:    r.FormValue("password"),
		Role:        r.FormValue("role"),
	}
	if raw := strings.TrimSpace(r.FormValue("lms_user_id")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.renderViewersPage(w, r, http.StatusBadRequest, "invalid LMS user id")
			return
		}
		form.LMSUserID = id
	}
	if err := validate.Struct(form); err != nil {
		h.renderViewersPage(w, r, http.StatusBadRequest, validationMessage(err))
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(form.Password), bcrypt.DefaultCost)
	if err != nil {
		slog.Error("failed to hash password", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if form.DisplayName == "" {
		form.DisplayName = form.Username
	}

	_, err = h.store.CreateViewer(r.Context(), model.Viewer{
		Username:     form.Username,
		DisplayName:  form.DisplayName,
		PasswordHash: string(hash),
		Role:         model.ViewerRole(form.Role),
		LMSUserID:    form.LMSUserID,
		Active:       true,
	})
	if err != nil {
		h.renderViewersPage(w, r, http.StatusConflict, "failed to create viewer: "+err.Error())
		return
	}

	http.Redirect(w, r, h.path("/admin/users"), http.StatusSeeOther)
}

// validationMessage lists the fields that failed validation.
func validationMessage(err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err.Error()
	}
	fields := make([]string, len(ve))
	for i, fe := range ve {
		fields[i] = fe.Field() + " (" + fe.Tag() + ")"
	}
	return "invalid fields: " + strings.Join(fields, ", ")
}

func (h *Handler) handleToggleViewerActive(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "viewerID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid viewer ID", http.StatusBadRequest)
		return
	}
	if self := model.ViewerFromContext(r.Context()); self != nil && self.ID == id {
		h.renderViewersPage(w, r, http.StatusBadRequest, "cannot deactivate your own account")
		return
	}

	if err := h.store.ToggleViewerActive(r.Context(), id); err != nil {
		slog.Error("failed to toggle viewer active", "id", id, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, h.path("/admin/users"), http.StatusSeeOther)
}

func (h *Handler) renderImportPage(w http.ResponseWriter, r *http.Request, status int, msg string, isErr bool) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := views.AdminImportPage(msg, isErr).Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}

func (h *Handler) handleAdminImportPage(w http.ResponseWriter, r *http.Request) {
	h.renderImportPage(w, r, http.StatusOK, "", false)
}

func (h *Handler) handleImportSnapshot(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxSnapshotSize); err != nil {
		http.Error(w, "file too large", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("snapshot_file")
	if err != nil {
		http.Error(w, "no file uploaded", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "failed to read file", http.StatusInternalServerError)
		return
	}

	hash := sha256sum(data)
	storedHash, err := h.store.GetImportedFileHash(r.Context(), header.Filename)
	if err != nil {
		slog.Error("failed to check import status", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if storedHash == hash {
		h.renderImportPage(w, r, http.StatusOK, appI18n.T(r.Context(), "UploadDuplicate"), true)
		return
	}

	var snap model.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		h.renderImportPage(w, r, http.StatusBadRequest, "invalid JSON: "+err.Error(), true)
		return
	}

	if err := h.store.ImportSnapshot(r.Context(), snap); err != nil {
		if errors.Is(err, store.ErrReadOnlyLMS) {
			h.renderImportPage(w, r, http.StatusBadRequest, err.Error(), true)
			return
		}
		slog.Error("failed to import snapshot", "filename", header.Filename, "error", err)
		http.Error(w, "failed to import snapshot: "+err.Error(), http.StatusInternalServerError)
		return
	}

	if err := h.store.SetImportedFileHash(r.Context(), header.Filename, hash); err != nil {
		slog.Error("failed to record import", "error", err)
	}

	slog.Info("imported snapshot via admin", "filename", header.Filename,
		"courses", len(snap.Courses), "users", len(snap.Users), "quizzes", len(snap.Quizzes))

	msg := appI18n.Td(r.Context(), "ImportSuccess", map[string]any{
		"Courses": len(snap.Courses),
		"Users":   len(snap.Users),
		"Quizzes": len(snap.Quizzes),
	})
	h.renderImportPage(w, r, http.StatusOK, msg, false)
}

func sha256sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
