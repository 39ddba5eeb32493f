// Package submit turns a filled-in parameter form into a deployment request
// and sends it to the deployment API.
package submit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/multicloud-portal/portal/internal/forms"
	"github.com/multicloud-portal/portal/internal/metrics"
	"github.com/multicloud-portal/portal/internal/models"
	"github.com/multicloud-portal/portal/internal/secrets"
	"github.com/multicloud-portal/portal/internal/store"
	"github.com/multicloud-portal/portal/internal/upstream"
	"github.com/multicloud-portal/portal/internal/validation"
)

// FallbackMessage is shown when a failure carries no usable message.
const FallbackMessage = "Deployment failed. Please try again."

// Deployer queues deployments. *upstream.Client satisfies it.
type Deployer interface {
	Deploy(ctx context.Context, req upstream.DeployRequest) (*models.SubmitResult, error)
}

// Request is a submission as entered by a user.
type Request struct {
	UserEmail    string
	Template     *models.Template
	ProviderType string
	Values       map[string]string
	Tags         []string
}

// Result identifies the queued deployment.
type Result struct {
	DeploymentID string `json:"deployment_id"`
	Status       string `json:"status"`
	TaskID       string `json:"task_id,omitempty"`
	ProviderType string `json:"provider_type"`
	Message      string `json:"message,omitempty"`
}

// Error is a failed submission with one display message.
type Error struct {
	Message string
	// Fields holds client-side validation failures. Empty when the API rejected the request.
	Fields forms.ValidationErrors
	Err    error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

// IsValidation reports whether the submission was stopped before any request was made.
func (e *Error) IsValidation() bool { return len(e.Fields) > 0 }

// Orchestrator validates and submits deployments.
type Orchestrator struct {
	credentials store.CredentialStore
	cipher      *secrets.Cipher
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// New creates an orchestrator. credentials and cipher may be nil, in which
// case stored custom credentials are never applied.
func New(credentials store.CredentialStore, cipher *secrets.Cipher, m *metrics.Metrics, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Orchestrator{
		credentials: credentials,
		cipher:      cipher,
		metrics:     m,
		logger:      logger,
	}
}

// Submit validates the request, builds the payload and queues the
// deployment. Invalid requests are rejected with every field error and no
// call to d.
func (o *Orchestrator) Submit(ctx context.Context, d Deployer, req Request) (*Result, error) {
	if req.Template == nil {
		return nil, errors.New("submit: template is required")
	}
	provider := MapProviderType(req.ProviderType)
	if provider == "" {
		provider = MapProviderType(req.Template.ProviderType)
	}

	payload, verrs := o.Prepare(ctx, req)
	if len(verrs) > 0 {
		o.metrics.Submissions.WithLabelValues("invalid", provider).Inc()
		return nil, &Error{Message: Summarize(verrs), Fields: verrs}
	}

	res, err := d.Deploy(ctx, payload)
	if err != nil {
		o.metrics.Submissions.WithLabelValues("rejected", provider).Inc()
		o.logger.Warn("deployment submission failed",
			"template", req.Template.Name,
			"provider_type", provider,
			"error", err,
		)
		return nil, &Error{Message: Classify(err), Err: err}
	}

	o.metrics.Submissions.WithLabelValues("accepted", provider).Inc()
	o.logger.Info("deployment submitted",
		"deployment_id", res.DeploymentID,
		"template", req.Template.Name,
		"provider_type", provider,
		"user", req.UserEmail,
	)
	return &Result{
		DeploymentID: res.DeploymentID,
		Status:       res.Status,
		TaskID:       res.TaskID,
		ProviderType: provider,
		Message:      res.Message,
	}, nil
}

// Prepare builds the API payload for req. It returns the validation errors
// instead when the request cannot be sent.
func (o *Orchestrator) Prepare(ctx context.Context, req Request) (upstream.DeployRequest, forms.ValidationErrors) {
	provider := MapProviderType(req.ProviderType)
	if provider == "" {
		provider = MapProviderType(req.Template.ProviderType)
	}

	top, params := Split(req.Values)
	// a template may declare its own location, project or tags parameter
	for _, spec := range req.Template.Parameters {
		if v, ok := req.Values[spec.Name]; ok {
			params[spec.Name] = v
		}
		if slices.Contains(tagKeys, spec.Name) {
			top.Tags = ""
		}
	}
	tags := append(validation.SplitTags(top.Tags), req.Tags...)

	var errs forms.ValidationErrors
	add := func(err error) {
		var verr *validation.Error
		if errors.As(err, &verr) {
			errs = append(errs, forms.FieldError{Field: verr.Field, Message: verr.Message})
		}
	}
	add(validation.ValidateResourceGroup(top.ResourceGroup))
	add(validation.ValidateLocation(top.Location))
	add(validation.ValidateTags(tags))

	form := forms.Synthesize(req.Template.Name, req.Template.Parameters, nil)
	form.Restore(params)
	errs = append(errs, form.Validate()...)

	parameters, err := form.Serialize()
	if err != nil && len(errs) == 0 {
		errs = append(errs, forms.FieldError{Field: "parameters", Message: err.Error()})
	}
	if len(errs) > 0 {
		return upstream.DeployRequest{}, errs
	}
	for name, v := range params {
		if _, known := form.Field(name); !known && v != "" {
			parameters[name] = v
		}
	}

	payload := upstream.DeployRequest{
		TemplateName:   req.Template.Name,
		ProviderType:   provider,
		SubscriptionID: top.SubscriptionID,
		ResourceGroup:  strings.TrimSpace(top.ResourceGroup),
		Location:       strings.TrimSpace(top.Location),
		Parameters:     parameters,
		Tags:           tags,
	}
	o.applyCredential(ctx, req.UserEmail, provider, &payload)
	return payload, nil
}

// applyCredential fills in the user's stored custom credential for the
// target cloud. A subscription entered on the form wins over the stored one.
// Lookup failures fall back to the server-side defaults.
func (o *Orchestrator) applyCredential(ctx context.Context, email, provider string, payload *upstream.DeployRequest) {
	if o.credentials == nil || email == "" {
		return
	}
	cloud := models.CloudForProvider(provider)
	cred, err := o.credentials.Get(ctx, email, cloud)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			o.logger.Warn("failed to load custom credential", "cloud", cloud, "error", err)
		}
		return
	}
	if o.cipher != nil {
		opened, err := o.cipher.OpenCredential(*cred)
		if err != nil {
			o.logger.Warn("failed to decrypt custom credential, using defaults", "cloud", cloud, "error", err)
			return
		}
		cred = &opened
	} else if secrets.IsSealed(cred.Secret) {
		return
	}

	if payload.SubscriptionID == "" {
		if cloud == models.CloudGCP && cred.ProjectID != "" {
			payload.SubscriptionID = cred.ProjectID
		} else {
			payload.SubscriptionID = cred.SubscriptionID
		}
	}
	if cred.TenantID != "" || cred.ClientID != "" || cred.Secret != "" {
		payload.Credentials = &upstream.DeployCredentials{
			TenantID:     cred.TenantID,
			ClientID:     cred.ClientID,
			ClientSecret: cred.Secret,
		}
	}
}

// TopLevel holds the form values that belong to the deployment itself
// rather than to the template.
type TopLevel struct {
	ResourceGroup  string
	Location       string
	SubscriptionID string
	Tags           string
}

var (
	resourceGroupKeys = []string{"resource_group", "resourceGroup", "resourceGroupName", "resource_group_name"}
	locationKeys      = []string{"location"}
	subscriptionKeys  = []string{"subscription_id", "subscriptionId", "project_id", "projectId"}
	tagKeys           = []string{"tags"}
)

// Split separates deployment fields from template parameters. Both the
// snake_case and camelCase spellings are recognized.
func Split(values map[string]string) (TopLevel, map[string]string) {
	params := maps.Clone(values)
	if params == nil {
		params = map[string]string{}
	}
	take := func(keys []string) string {
		var found string
		for _, k := range keys {
			if v, ok := params[k]; ok {
				delete(params, k)
				if found == "" {
					found = strings.TrimSpace(v)
				}
			}
		}
		return found
	}
	return TopLevel{
		ResourceGroup:  take(resourceGroupKeys),
		Location:       take(locationKeys),
		SubscriptionID: take(subscriptionKeys),
		Tags:           take(tagKeys),
	}, params
}

// MapProviderType turns a logical cloud name into the provider type the API
// expects. Concrete provider types pass through unchanged.
func MapProviderType(p string) string {
	switch strings.ToLower(strings.TrimSpace(p)) {
	case "":
		return ""
	case "azure":
		return "terraform-azure"
	case "gcp":
		return "terraform-gcp"
	case "aws":
		return "terraform-aws"
	case "bicep":
		return "azure"
	default:
		return strings.ToLower(strings.TrimSpace(p))
	}
}

// Summarize joins validation errors into one display message.
func Summarize(errs forms.ValidationErrors) string {
	if len(errs) == 0 {
		return ""
	}
	parts := make([]string, len(errs))
	for i, e := range errs {
		parts[i] = e.Message
	}
	return "Please fix the following: " + strings.Join(parts, "; ")
}

// Classify reduces an API failure to one display message: structured
// validation errors are joined as "path: msg", a single message is shown
// as-is, and anything else gets the fallback.
func Classify(err error) string {
	var apiErr *upstream.APIError
	if !errors.As(err, &apiErr) {
		if err == nil {
			return FallbackMessage
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return "The deployment request timed out. Please try again."
		}
		return FallbackMessage
	}
	if len(apiErr.Validation) > 0 {
		parts := make([]string, len(apiErr.Validation))
		for i, f := range apiErr.Validation {
			if path := f.Path(); path != "" {
				parts[i] = fmt.Sprintf("%s: %s", path, f.Msg)
			} else {
				parts[i] = f.Msg
			}
		}
		return strings.Join(parts, "; ")
	}
	if msg := strings.TrimSpace(apiErr.Message); msg != "" {
		return msg
	}
	return FallbackMessage
}
