// Package graphql provides the GraphQL schema definition and resolvers
package graphql

import (
	"strings"
	"time"

	"github.com/graphql-go/graphql"
	"github.com/ortelius/advisory-index/model"
	"github.com/ortelius/advisory-index/query"
	"github.com/ortelius/advisory-index/util"
)

// SeverityType defines the GraphQL enum for advisory severity levels
var SeverityType = graphql.NewEnum(graphql.EnumConfig{
	Name: "Severity",
	Values: graphql.EnumValueConfigMap{
		"CRITICAL": &graphql.EnumValueConfig{Value: "critical"},
		"HIGH":     &graphql.EnumValueConfig{Value: "high"},
		"MEDIUM":   &graphql.EnumValueConfig{Value: "medium"},
		"LOW":      &graphql.EnumValueConfig{Value: "low"},
		"NONE":     &graphql.EnumValueConfig{Value: ""},
	},
})

func formatTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

// AdvisoryType defines the GraphQL object for a single advisory
var AdvisoryType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Advisory",
	Fields: graphql.Fields{
		"id":                  &graphql.Field{Type: graphql.String},
		"title":               &graphql.Field{Type: graphql.String},
		"author":              &graphql.Field{Type: graphql.String},
		"module_name":         &graphql.Field{Type: graphql.String},
		"vulnerable_versions": &graphql.Field{Type: graphql.String},
		"patched_versions":    &graphql.Field{Type: graphql.String},
		"severity":            &graphql.Field{Type: graphql.String},
		"cvss_score":          &graphql.Field{Type: graphql.Float},
		"cvss_vector":         &graphql.Field{Type: graphql.String},
		"overview":            &graphql.Field{Type: graphql.String},
		"recommendation":      &graphql.Field{Type: graphql.String},
		"cves":                &graphql.Field{Type: graphql.NewList(graphql.String)},
		"publish_date": &graphql.Field{
			Type: graphql.String,
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				if adv, ok := p.Source.(*model.Advisory); ok {
					return formatTime(adv.PublishDate), nil
				}
				return nil, nil
			},
		},
		"effective_date": &graphql.Field{
			Type: graphql.String,
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				if adv, ok := p.Source.(*model.Advisory); ok {
					return formatTime(adv.EffectiveDate()), nil
				}
				return nil, nil
			},
		},
		"purl": &graphql.Field{
			Type: graphql.String,
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				if adv, ok := p.Source.(*model.Advisory); ok && adv.ModuleName != "" {
					return util.ModulePURL(adv.ModuleName), nil
				}
				return nil, nil
			},
		},
	},
})

// YearGroupType defines one year of the table of contents
var YearGroupType = graphql.NewObject(graphql.ObjectConfig{
	Name: "YearGroup",
	Fields: graphql.Fields{
		"year":       &graphql.Field{Type: graphql.Int},
		"advisories": &graphql.Field{Type: graphql.NewList(AdvisoryType)},
	},
})

// IndexInfoType describes the generation currently being served
var IndexInfoType = graphql.NewObject(graphql.ObjectConfig{
	Name: "IndexInfo",
	Fields: graphql.Fields{
		"generation": &graphql.Field{Type: graphql.Int},
		"records":    &graphql.Field{Type: graphql.Int},
		"modules":    &graphql.Field{Type: graphql.Int},
		"warnings":   &graphql.Field{Type: graphql.Int},
		"built_at":   &graphql.Field{Type: graphql.String},
	},
})

func filterSeverity(advs []*model.Advisory, p graphql.ResolveParams) []*model.Advisory {
	severity, ok := p.Args["severity"].(string)
	if !ok {
		return advs
	}
	out := []*model.Advisory{}
	for _, adv := range advs {
		if strings.EqualFold(adv.Severity, severity) {
			out = append(out, adv)
		}
	}
	return out
}

// CreateSchema generates and returns the configured GraphQL schema for the API.
func CreateSchema(engine *query.Engine) (graphql.Schema, error) {
	rootQuery := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"advisory": &graphql.Field{
				Type: AdvisoryType,
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					if adv, ok := engine.Get(p.Args["id"].(string)); ok {
						return adv, nil
					}
					return nil, nil
				},
			},
			"latest": &graphql.Field{
				Type: AdvisoryType,
				Resolve: func(_ graphql.ResolveParams) (interface{}, error) {
					if adv, ok := engine.Latest(); ok {
						return adv, nil
					}
					return nil, nil
				},
			},
			"advisories": &graphql.Field{
				Type: graphql.NewList(AdvisoryType),
				Args: graphql.FieldConfigArgument{
					"module":   &graphql.ArgumentConfig{Type: graphql.String},
					"since":    &graphql.ArgumentConfig{Type: graphql.String},
					"severity": &graphql.ArgumentConfig{Type: SeverityType},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					if module, ok := p.Args["module"].(string); ok {
						return filterSeverity(engine.ListForModule(module), p), nil
					}
					if since, ok := p.Args["since"].(string); ok {
						cutoff, err := query.CutoffFromEpochMillis(since)
						if err != nil {
							return nil, err
						}
						return filterSeverity(engine.ListSince(cutoff), p), nil
					}
					return filterSeverity(engine.ListAll(), p), nil
				},
			},
			"checkVersion": &graphql.Field{
				Type: graphql.NewList(AdvisoryType),
				Args: graphql.FieldConfigArgument{
					"module":  &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"version": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					module := p.Args["module"].(string)
					version := p.Args["version"].(string)
					return engine.CheckVersion(module, version), nil
				},
			},
			"checkPurl": &graphql.Field{
				Type: graphql.NewList(AdvisoryType),
				Args: graphql.FieldConfigArgument{
					"purl": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return engine.CheckPURL(p.Args["purl"].(string))
				},
			},
			"modules": &graphql.Field{
				Type: graphql.NewList(graphql.String),
				Resolve: func(_ graphql.ResolveParams) (interface{}, error) {
					return engine.Snapshot().Modules(), nil
				},
			},
			"tableOfContents": &graphql.Field{
				Type: graphql.NewList(YearGroupType),
				Resolve: func(_ graphql.ResolveParams) (interface{}, error) {
					return engine.TableOfContents(), nil
				},
			},
			"index": &graphql.Field{
				Type: IndexInfoType,
				Resolve: func(_ graphql.ResolveParams) (interface{}, error) {
					idx := engine.Snapshot()
					return map[string]interface{}{
						"generation": int(idx.Generation()),
						"records":    idx.Len(),
						"modules":    len(idx.Modules()),
						"warnings":   len(idx.Warnings()),
						"built_at":   formatTime(idx.BuiltAt()),
					}, nil
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query: rootQuery,
	})
}
