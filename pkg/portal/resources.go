package portal

import "time"

// document is the JSON:API envelope of a collection response.
type document[T any] struct {
	Data  []resource[T] `json:"data"`
	Links struct {
		Self string `json:"self"`
		Next string `json:"next"`
	} `json:"links"`
}

type resource[T any] struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Attributes T      `json:"attributes"`
}

// https://developer.apple.com/documentation/appstoreconnectapi/bundleid/attributes
type bundleIDAttributes struct {
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
	Platform   string `json:"platform"`
	SeedID     string `json:"seedId"`
}

func (a bundleIDAttributes) toBundleID(id string) BundleID {
	return BundleID{
		ID:         id,
		Identifier: a.Identifier,
		Name:       a.Name,
		Platform:   a.Platform,
		SeedID:     a.SeedID,
	}
}

// https://developer.apple.com/documentation/appstoreconnectapi/certificate/attributes
type certificateAttributes struct {
	Name            string `json:"name"`
	DisplayName     string `json:"displayName"`
	CertificateType string `json:"certificateType"`
	SerialNumber    string `json:"serialNumber"`
	Platform        string `json:"platform"`
	ExpirationDate  Time   `json:"expirationDate"`
}

func (a certificateAttributes) toCertificate(id string) Certificate {
	return Certificate{
		ID:              id,
		Name:            a.Name,
		DisplayName:     a.DisplayName,
		CertificateType: a.CertificateType,
		SerialNumber:    a.SerialNumber,
		Platform:        a.Platform,
		ExpirationDate:  time.Time(a.ExpirationDate),
	}
}

// https://developer.apple.com/documentation/appstoreconnectapi/profile/attributes
type profileAttributes struct {
	Name           string `json:"name"`
	Platform       string `json:"platform"`
	ProfileType    string `json:"profileType"`
	ProfileState   string `json:"profileState"`
	UUID           string `json:"uuid"`
	ExpirationDate Time   `json:"expirationDate"`
}

func (a profileAttributes) toProfile(id string) Profile {
	return Profile{
		ID:             id,
		UUID:           a.UUID,
		Name:           a.Name,
		ProfileType:    a.ProfileType,
		Platform:       a.Platform,
		State:          a.ProfileState,
		ExpirationDate: time.Time(a.ExpirationDate),
	}
}
