package config

import "fmt"

// TextractConfig falls back to the S3 credentials when left empty.
type TextractConfig struct {
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
}

type OCRConfig struct {
	Engine       string   `yaml:"engine"` // textract | tesseract
	Languages    []string `yaml:"languages"`
	PDFTextLayer bool     `yaml:"pdfTextLayer"`
}

func defaultOCR() OCRConfig {
	return OCRConfig{
		Engine:       "textract",
		Languages:    []string{"por", "eng"},
		PDFTextLayer: true,
	}
}

func (c *TextractConfig) applyEnv() {
	envString("TEXTRACT_REGION", &c.Region)
	envString("TEXTRACT_ENDPOINT", &c.Endpoint)
	envString("TEXTRACT_ACCESS_KEY", &c.AccessKey)
	envString("TEXTRACT_SECRET_KEY", &c.SecretKey)
}

// Resolved fills empty fields from the S3 section.
func (c TextractConfig) Resolved(s3 S3Config) TextractConfig {
	if c.Region == "" {
		c.Region = s3.Region
	}
	if c.AccessKey == "" {
		c.AccessKey = s3.AccessKey
		c.SecretKey = s3.SecretKey
	}
	return c
}

func (c *OCRConfig) applyEnv() {
	envString("OCR_ENGINE", &c.Engine)
	envList("OCR_LANGUAGES", &c.Languages)
	envBool("OCR_PDF_TEXT_LAYER", &c.PDFTextLayer)
}

func (c *OCRConfig) validate() error {
	switch c.Engine {
	case "textract", "tesseract":
		return nil
	default:
		return fmt.Errorf("unsupported OCR engine %q", c.Engine)
	}
}
