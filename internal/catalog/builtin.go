package catalog

// Builtin returns the catalogs shipped with the service. They are used
// when no catalog file is configured.
func Builtin() []Catalog {
	return []Catalog{articleCatalog(), toolCatalog(), datasetCatalog()}
}

// commonFields are shared by every built-in resource type.
func commonFields() []FieldDefinition {
	return []FieldDefinition{
		{Name: "title", Label: "Title", Type: FieldText, Required: true},
		{Name: "url", Label: "URL", Type: FieldText, Format: FormatURL},
		{Name: "summary", Label: "Summary", Type: FieldTextarea},
		{Name: "tags", Label: "Tags", Type: FieldMultiSelect},
		{Name: "image_url", Label: "Image URL", Type: FieldText, Format: FormatURL},
	}
}

func articleCatalog() Catalog {
	return Catalog{
		ResourceType: "article",
		Label:        "Articles",
		Fields: append(commonFields(),
			FieldDefinition{Name: "author", Label: "Author", Type: FieldText, Required: true},
			FieldDefinition{Name: "published_date", Label: "Published Date", Type: FieldDate},
			FieldDefinition{Name: "reading_time", Label: "Reading Time", Type: FieldNumber,
				Description: "Estimated reading time in minutes"},
			FieldDefinition{Name: "language", Label: "Language", Type: FieldSelect,
				Options: []string{"English", "Spanish", "French", "German", "Other"}},
			FieldDefinition{Name: "paywalled", Label: "Paywalled", Type: FieldCheckbox},
		),
	}
}

func toolCatalog() Catalog {
	return Catalog{
		ResourceType: "tool",
		Label:        "Tools",
		Fields: append(commonFields(),
			FieldDefinition{Name: "functions", Label: "Functions", Type: FieldMultiSelect,
				Options: []string{"Analysis", "Collection", "Reporting", "Visualization", "Automation"}},
			FieldDefinition{Name: "pricing", Label: "Pricing", Type: FieldSelect, Required: true,
				Options: []string{"Free", "Freemium", "Paid", "Enterprise"}},
			FieldDefinition{Name: "price_amount", Label: "Price Amount", Type: FieldNumber},
			FieldDefinition{Name: "open_source", Label: "Open Source", Type: FieldCheckbox},
			FieldDefinition{Name: "contact_email", Label: "Contact Email", Type: FieldText, Format: FormatEmail},
			FieldDefinition{Name: "launch_date", Label: "Launch Date", Type: FieldDate},
		),
	}
}

func datasetCatalog() Catalog {
	return Catalog{
		ResourceType: "dataset",
		Label:        "Datasets",
		Fields: append(commonFields(),
			FieldDefinition{Name: "coverage", Label: "Coverage", Type: FieldMultiSelect,
				Description: "Regions or populations covered"},
			FieldDefinition{Name: "record_count", Label: "Record Count", Type: FieldNumber},
			FieldDefinition{Name: "completeness_percentage", Label: "Completeness Percentage", Type: FieldNumber},
			FieldDefinition{Name: "license", Label: "License", Type: FieldSelect, Required: true,
				Options: []string{"CC0", "CC-BY", "CC-BY-SA", "ODbL", "Proprietary"}},
			FieldDefinition{Name: "update_frequency", Label: "Update Frequency", Type: FieldSelect,
				Options: []string{"Daily", "Weekly", "Monthly", "Yearly", "Irregular"}},
			FieldDefinition{Name: "maintainer_email", Label: "Maintainer Email", Type: FieldText, Format: FormatEmail},
			FieldDefinition{Name: "is_public", Label: "Is Public", Type: FieldCheckbox},
		),
	}
}
