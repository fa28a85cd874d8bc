package lifecycle

import (
	"fmt"
	"sort"

	"marketplace/api/internal/rbac"
)

type EntityType string

type FieldType string

const (
	FieldString  FieldType = "string"
	FieldInt     FieldType = "int"
	FieldFloat   FieldType = "float"
	FieldBool    FieldType = "bool"
	FieldStrings FieldType = "strings"
)

// FieldRule describes one entity attribute. Rules uses validator tag syntax
// and is applied to the decoded value.
type FieldRule struct {
	Type     FieldType
	Required bool
	Rules    string
}

// EntityConfig is the per-entity lifecycle table.
type EntityConfig struct {
	Type       EntityType
	Table      string
	Vocabulary Vocabulary
	// AdminDefault is the initial status of admin-created records.
	AdminDefault      Status
	UserSubmissions   bool
	TrackHistory      bool
	HardDelete        bool
	TitleField        string
	PublicPath        string
	ApprovePermission string
	ManagePermission  string
	Fields            map[string]FieldRule
}

func (c EntityConfig) validate() error {
	if c.Type == "" || c.Table == "" {
		return fmt.Errorf("entity config requires type and table")
	}
	if !c.Vocabulary.Supports(StatusLive) {
		return fmt.Errorf("entity %s: vocabulary must define a live status", c.Type)
	}
	if !c.Vocabulary.Supports(c.AdminDefault) {
		return fmt.Errorf("entity %s: admin default %q not in vocabulary", c.Type, c.AdminDefault)
	}
	if c.UserSubmissions && !c.Vocabulary.Supports(StatusPending) {
		return fmt.Errorf("entity %s: user submissions require a pending status", c.Type)
	}
	if c.TitleField != "" {
		if _, ok := c.Fields[c.TitleField]; !ok {
			return fmt.Errorf("entity %s: title field %q is not declared", c.Type, c.TitleField)
		}
	}
	return nil
}

// Registry holds the entity table. It is read-only after construction.
type Registry struct {
	entities map[EntityType]EntityConfig
}

func NewRegistry(configs ...EntityConfig) (*Registry, error) {
	r := &Registry{entities: make(map[EntityType]EntityConfig, len(configs))}
	for _, cfg := range configs {
		if err := cfg.validate(); err != nil {
			return nil, err
		}
		if _, exists := r.entities[cfg.Type]; exists {
			return nil, fmt.Errorf("entity %s registered twice", cfg.Type)
		}
		r.entities[cfg.Type] = cfg
	}
	return r, nil
}

func (r *Registry) Lookup(entity EntityType) (EntityConfig, bool) {
	cfg, ok := r.entities[entity]
	return cfg, ok
}

// Types returns the registered entity types in a stable order.
func (r *Registry) Types() []EntityType {
	types := make([]EntityType, 0, len(r.entities))
	for t := range r.entities {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

func (r *Registry) Configs() []EntityConfig {
	types := r.Types()
	configs := make([]EntityConfig, 0, len(types))
	for _, t := range types {
		configs = append(configs, r.entities[t])
	}
	return configs
}

const (
	EntityAgency        EntityType = "agency"
	EntityPressRelease  EntityType = "press_release"
	EntityPressPack     EntityType = "press_pack"
	EntityPaparazzi     EntityType = "paparazzi"
	EntityTheme         EntityType = "theme"
	EntityRealEstate    EntityType = "real_estate"
	EntityRadio         EntityType = "radio"
	EntityWebsite       EntityType = "website"
	EntityPodcaster     EntityType = "podcaster"
	EntityPublishedWork EntityType = "published_work"
	EntityGroup         EntityType = "group"
)

const platformRule = "oneof=Instagram TikTok YouTube Twitter Facebook"

func socialPageFields(followersField string) map[string]FieldRule {
	return map[string]FieldRule{
		"platform":        {Type: FieldString, Required: true, Rules: platformRule},
		"username":        {Type: FieldString, Required: true, Rules: "min=1,max=100"},
		"page_name":       {Type: FieldString, Required: true, Rules: "min=1,max=255"},
		followersField:    {Type: FieldInt, Rules: "min=0"},
		"collaboration":   {Type: FieldString, Rules: "max=255"},
		"category":        {Type: FieldString, Rules: "max=100"},
		"location":        {Type: FieldString, Rules: "max=255"},
		"price_reel":      {Type: FieldFloat, Rules: "min=0"},
		"price_story":     {Type: FieldFloat, Rules: "min=0"},
		"video_minutes":   {Type: FieldInt, Rules: "min=0"},
		"page_website":    {Type: FieldString, Rules: "url"},
		"pin_post_charge": {Type: FieldFloat, Rules: "min=0"},
	}
}

// DefaultEntities is the marketplace's entity table.
func DefaultEntities() []EntityConfig {
	approve := rbac.PermApproveSubmissions
	manage := rbac.PermManageSubmissions

	return []EntityConfig{
		{
			Type: EntityAgency, Table: "agencies", Vocabulary: ReviewVocabulary,
			AdminDefault: StatusPending, UserSubmissions: true, TrackHistory: true,
			TitleField: "agency_name", PublicPath: "/agencies",
			ApprovePermission: approve, ManagePermission: manage,
			Fields: map[string]FieldRule{
				"agency_name":     {Type: FieldString, Required: true, Rules: "min=2,max=255"},
				"agency_email":    {Type: FieldString, Required: true, Rules: "email"},
				"agency_website":  {Type: FieldString, Rules: "url"},
				"agency_owner":    {Type: FieldString, Rules: "max=255"},
				"agency_country":  {Type: FieldString, Rules: "max=100"},
				"agency_phone":    {Type: FieldString, Rules: "max=30"},
				"team_size":       {Type: FieldInt, Rules: "min=0"},
				"services":        {Type: FieldStrings, Rules: "max=50"},
				"agency_linkedin": {Type: FieldString, Rules: "url"},
			},
		},
		{
			Type: EntityPressRelease, Table: "press_releases", Vocabulary: ActivationVocabulary,
			AdminDefault: StatusLive, UserSubmissions: true, TrackHistory: false,
			TitleField: "name", PublicPath: "/press-releases",
			ApprovePermission: approve, ManagePermission: manage,
			Fields: map[string]FieldRule{
				"name":                  {Type: FieldString, Required: true, Rules: "min=1,max=255"},
				"region":                {Type: FieldString, Rules: "max=100"},
				"niche":                 {Type: FieldString, Rules: "max=100"},
				"price":                 {Type: FieldFloat, Required: true, Rules: "min=0"},
				"word_limit":            {Type: FieldInt, Rules: "min=0"},
				"images_allowed":        {Type: FieldInt, Rules: "min=0"},
				"google_news_index":     {Type: FieldBool},
				"google_search":         {Type: FieldBool},
				"package_options":       {Type: FieldStrings, Rules: "max=20"},
				"turnaround_time":       {Type: FieldString, Rules: "max=100"},
				"description":           {Type: FieldString, Rules: "max=5000"},
				"distribution_websites": {Type: FieldInt, Rules: "min=0"},
			},
		},
		{
			Type: EntityPressPack, Table: "press_packs", Vocabulary: ReviewVocabulary,
			AdminDefault: StatusLive, UserSubmissions: false, TrackHistory: false, HardDelete: true,
			TitleField: "name", PublicPath: "/press-packs",
			ApprovePermission: approve, ManagePermission: manage,
			Fields: map[string]FieldRule{
				"name":        {Type: FieldString, Required: true, Rules: "min=1,max=255"},
				"region":      {Type: FieldString, Rules: "max=100"},
				"price":       {Type: FieldFloat, Required: true, Rules: "min=0"},
				"media_count": {Type: FieldInt, Rules: "min=0"},
				"description": {Type: FieldString, Rules: "max=5000"},
			},
		},
		{
			Type: EntityPaparazzi, Table: "paparazzi", Vocabulary: ReviewVocabulary,
			AdminDefault: StatusLive, UserSubmissions: true, TrackHistory: false, HardDelete: true,
			TitleField: "page_name", PublicPath: "/paparazzi",
			ApprovePermission: approve, ManagePermission: manage,
			Fields: socialPageFields("followers_count"),
		},
		{
			Type: EntityTheme, Table: "themes", Vocabulary: ReviewVocabulary,
			AdminDefault: StatusLive, UserSubmissions: true, TrackHistory: true,
			TitleField: "page_name", PublicPath: "/themes",
			ApprovePermission: approve, ManagePermission: manage,
			Fields: socialPageFields("no_of_followers"),
		},
		{
			Type: EntityRealEstate, Table: "real_estates", Vocabulary: ReviewVocabulary,
			AdminDefault: StatusLive, UserSubmissions: true, TrackHistory: true,
			TitleField: "title", PublicPath: "/real-estate",
			ApprovePermission: approve, ManagePermission: manage,
			Fields: map[string]FieldRule{
				"title":       {Type: FieldString, Required: true, Rules: "min=3,max=255"},
				"location":    {Type: FieldString, Required: true, Rules: "max=255"},
				"price":       {Type: FieldFloat, Rules: "min=0"},
				"bedrooms":    {Type: FieldInt, Rules: "min=0,max=100"},
				"area_sqft":   {Type: FieldFloat, Rules: "min=0"},
				"listing_url": {Type: FieldString, Rules: "url"},
				"description": {Type: FieldString, Rules: "max=5000"},
			},
		},
		{
			Type: EntityRadio, Table: "radios", Vocabulary: ReviewVocabulary,
			AdminDefault: StatusLive, UserSubmissions: true, TrackHistory: false,
			TitleField: "radio_name", PublicPath: "/radios",
			ApprovePermission: approve, ManagePermission: manage,
			Fields: map[string]FieldRule{
				"radio_name":     {Type: FieldString, Required: true, Rules: "min=1,max=255"},
				"frequency":      {Type: FieldString, Rules: "max=50"},
				"radio_language": {Type: FieldString, Rules: "max=50"},
				"radio_website":  {Type: FieldString, Rules: "url"},
				"emirate_state":  {Type: FieldString, Rules: "max=100"},
				"listeners":      {Type: FieldInt, Rules: "min=0"},
			},
		},
		{
			Type: EntityWebsite, Table: "websites", Vocabulary: ReviewVocabulary,
			AdminDefault: StatusLive, UserSubmissions: true, TrackHistory: true,
			TitleField: "publication_name", PublicPath: "/publications",
			ApprovePermission: approve, ManagePermission: manage,
			Fields: map[string]FieldRule{
				"publication_name":    {Type: FieldString, Required: true, Rules: "min=1,max=255"},
				"publication_website": {Type: FieldString, Required: true, Rules: "url"},
				"publication_price":   {Type: FieldFloat, Rules: "min=0"},
				"domain_authority":    {Type: FieldInt, Rules: "min=0,max=100"},
				"publication_region":  {Type: FieldString, Rules: "max=100"},
				"do_follow":           {Type: FieldBool},
				"sponsored_label":     {Type: FieldBool},
			},
		},
		{
			Type: EntityPodcaster, Table: "podcasters", Vocabulary: ReviewVocabulary,
			AdminDefault: StatusLive, UserSubmissions: true, TrackHistory: false,
			TitleField: "podcast_name", PublicPath: "/podcasters",
			ApprovePermission: approve, ManagePermission: manage,
			Fields: map[string]FieldRule{
				"podcast_name":    {Type: FieldString, Required: true, Rules: "min=1,max=255"},
				"podcast_host":    {Type: FieldString, Rules: "max=255"},
				"podcast_website": {Type: FieldString, Rules: "url"},
				"audience_size":   {Type: FieldInt, Rules: "min=0"},
				"industry":        {Type: FieldString, Rules: "max=100"},
			},
		},
		{
			Type: EntityPublishedWork, Table: "published_works", Vocabulary: CatalogVocabulary,
			AdminDefault: StatusLive, UserSubmissions: false, TrackHistory: false, HardDelete: true,
			TitleField: "publication_name", PublicPath: "/published-works",
			ApprovePermission: approve, ManagePermission: manage,
			Fields: map[string]FieldRule{
				"publication_name":    {Type: FieldString, Required: true, Rules: "min=1,max=255"},
				"publication_website": {Type: FieldString, Rules: "url"},
				"article_link":        {Type: FieldString, Required: true, Rules: "url"},
				"article_year":        {Type: FieldInt, Rules: "min=1900,max=2100"},
				"company_name":        {Type: FieldString, Rules: "max=255"},
				"industry":            {Type: FieldString, Rules: "max=100"},
				"tags":                {Type: FieldStrings, Rules: "max=30"},
				"is_featured":         {Type: FieldBool},
			},
		},
		{
			Type: EntityGroup, Table: "groups", Vocabulary: ReviewVocabulary,
			AdminDefault: StatusLive, UserSubmissions: true, TrackHistory: true,
			TitleField: "group_name", PublicPath: "/groups",
			ApprovePermission: approve, ManagePermission: manage,
			Fields: map[string]FieldRule{
				"group_name":     {Type: FieldString, Required: true, Rules: "min=2,max=255"},
				"group_location": {Type: FieldString, Rules: "max=255"},
				"group_website":  {Type: FieldString, Rules: "url"},
				"member_count":   {Type: FieldInt, Rules: "min=0"},
			},
		},
	}
}

// DefaultRegistry builds the registry from DefaultEntities.
func DefaultRegistry() *Registry {
	registry, err := NewRegistry(DefaultEntities()...)
	if err != nil {
		panic(fmt.Sprintf("lifecycle: invalid default entity table: %v", err))
	}
	return registry
}
