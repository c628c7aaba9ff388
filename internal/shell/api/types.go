package api

import "time"

// =============================================================================
// Request Types
// =============================================================================

// CreateInstanceRequest is the request body for registering an instance.
type CreateInstanceRequest struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"`
	Region        string `json:"region"`
	Zone          string `json:"zone"`
	Type          string `json:"type"`
	Image         string `json:"image"`
	ProjectID     *int   `json:"project_id,omitempty"`
	EnvironmentID *int   `json:"environment_id,omitempty"`
	RootDNSZone   string `json:"root_dns_zone,omitempty"`
}

// CreateBucketRequest is the request body for registering a bucket.
type CreateBucketRequest struct {
	Name     string `json:"name"`
	Provider string `json:"provider"`
	Region   string `json:"region"`
	Type     string `json:"type"`
}

// CreateRegistryRequest is the request body for registering a registry.
type CreateRegistryRequest struct {
	Name     string `json:"name"`
	Provider string `json:"provider"`
	Region   string `json:"region"`
	Type     string `json:"type"`
}

// CreateEnvironmentRequest is the request body for creating an environment.
type CreateEnvironmentRequest struct {
	Name       string   `json:"name"`
	Path       string   `json:"path"`
	Subdomains []string `json:"subdomains,omitempty"`
}

// TransferRequest reassigns a resource to the user owning the given email.
type TransferRequest struct {
	Email string `json:"email"`
}

// =============================================================================
// Response Types
// =============================================================================

// InstanceResponse is the response for instance operations.
type InstanceResponse struct {
	ID               int       `json:"id"`
	Name             string    `json:"name"`
	CompositeName    string    `json:"composite_name"`
	Provider         string    `json:"provider"`
	Region           string    `json:"region"`
	Zone             string    `json:"zone"`
	Type             string    `json:"type"`
	Image            string    `json:"image"`
	Status           string    `json:"status"`
	IPAddress        string    `json:"ip_address,omitempty"`
	ProjectID        *int      `json:"project_id,omitempty"`
	EnvironmentID    *int      `json:"environment_id,omitempty"`
	RootDNSZone      string    `json:"root_dns_zone,omitempty"`
	IsProtected      bool      `json:"is_protected"`
	CreatedAt        time.Time `json:"created_at"`
	ModificationDate time.Time `json:"modification_date"`
}

// BucketResponse is the response for bucket operations. SecretKey is
// returned only by credential rotation, never by reads.
type BucketResponse struct {
	ID               int       `json:"id"`
	Name             string    `json:"name"`
	CompositeName    string    `json:"composite_name"`
	Provider         string    `json:"provider"`
	Region           string    `json:"region"`
	Type             string    `json:"type"`
	Status           string    `json:"status"`
	Endpoint         string    `json:"endpoint,omitempty"`
	AccessKey        string    `json:"access_key,omitempty"`
	SecretKey        string    `json:"secret_key,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	ModificationDate time.Time `json:"modification_date"`
}

// RegistryResponse is the response for registry operations.
type RegistryResponse struct {
	ID               int       `json:"id"`
	Name             string    `json:"name"`
	CompositeName    string    `json:"composite_name"`
	Provider         string    `json:"provider"`
	Region           string    `json:"region"`
	Type             string    `json:"type"`
	Status           string    `json:"status"`
	Endpoint         string    `json:"endpoint,omitempty"`
	AccessKey        string    `json:"access_key,omitempty"`
	SecretKey        string    `json:"secret_key,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	ModificationDate time.Time `json:"modification_date"`
}

// EnvironmentResponse is the response for environment operations.
type EnvironmentResponse struct {
	ID         int      `json:"id"`
	Name       string   `json:"name"`
	Path       string   `json:"path"`
	Subdomains []string `json:"subdomains"`
}

// ConsumptionResponse is one billed usage window.
type ConsumptionResponse struct {
	ID           string    `json:"id"`
	ResourceType string    `json:"resource_type"`
	ResourceID   int       `json:"resource_id"`
	Provider     string    `json:"provider"`
	InstanceType string    `json:"instance_type,omitempty"`
	FromDate     time.Time `json:"from_date"`
	ToDate       time.Time `json:"to_date"`
	PriceHourly  float64   `json:"price_hourly"`
	Amount       float64   `json:"amount"`
}

// ProviderResponse is one catalog entry in the provider listing.
type ProviderResponse struct {
	Name                     string           `json:"name"`
	BucketTypes              []string         `json:"bucket_types"`
	BucketAvailableRegions   []string         `json:"bucket_available_regions"`
	RegistryTypes            []string         `json:"registry_types"`
	RegistryAvailableRegions []string         `json:"registry_available_regions"`
	Regions                  []RegionResponse `json:"regions"`
	Configured               bool             `json:"configured"`
}

// RegionResponse is one region in a provider listing.
type RegionResponse struct {
	Name  string         `json:"name"`
	Zones []ZoneResponse `json:"zones"`
}

// ZoneResponse is one zone with its sellable instance types.
type ZoneResponse struct {
	Name          string                 `json:"name"`
	InstanceTypes []InstanceTypeResponse `json:"instance_types"`
}

// InstanceTypeResponse is one instance size and its hourly price.
type InstanceTypeResponse struct {
	Type        string  `json:"type"`
	PriceHourly float64 `json:"price_hourly"`
	Disabled    bool    `json:"disabled,omitempty"`
}

// ListInstancesResponse is the response for listing instances.
type ListInstancesResponse struct {
	Instances []InstanceResponse `json:"instances"`
	Total     int                `json:"total"`
	Limit     int                `json:"limit"`
	Offset    int                `json:"offset"`
}

// ListBucketsResponse is the response for listing buckets.
type ListBucketsResponse struct {
	Buckets []BucketResponse `json:"buckets"`
	Total   int              `json:"total"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
}

// ListRegistriesResponse is the response for listing registries.
type ListRegistriesResponse struct {
	Registries []RegistryResponse `json:"registries"`
	Total      int                `json:"total"`
	Limit      int                `json:"limit"`
	Offset     int                `json:"offset"`
}

// ListConsumptionsResponse is the response for listing consumptions.
type ListConsumptionsResponse struct {
	Consumptions []ConsumptionResponse `json:"consumptions"`
	Total        int                   `json:"total"`
	Limit        int                   `json:"limit"`
	Offset       int                   `json:"offset"`
}

// ErrorResponse is the error response format.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HealthResponse is the health check response.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse is the readiness check response.
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}
