package rulebase

import "github.com/opensource-health/kestrel/internal/domain"

// RespiratoryConditions returns the built-in respiratory catalogue as authored.
func RespiratoryConditions() []domain.Condition {
	return []domain.Condition{
		{Name: "Common Cold", Symptoms: []domain.SymptomWeight{
			{Symptom: "sneezing", Weight: 2},
			{Symptom: "sore throat", Weight: 1.5},
			{Symptom: "runny nose", Weight: 2},
			{Symptom: "mild fever", Weight: 1},
		}},
		{Name: "Flu", Symptoms: []domain.SymptomWeight{
			{Symptom: "high fever", Weight: 3},
			{Symptom: "body ache", Weight: 2.5},
			{Symptom: "fatigue", Weight: 2},
			{Symptom: "dry cough", Weight: 2},
		}},
		{Name: "Allergy", Symptoms: []domain.SymptomWeight{
			{Symptom: "sneezing", Weight: 2},
			{Symptom: "itchy eyes", Weight: 2.5},
			{Symptom: "runny nose", Weight: 1.5},
			{Symptom: "no fever", Weight: 1},
		}},
		{Name: "COVID-19", Symptoms: []domain.SymptomWeight{
			{Symptom: "fever", Weight: 3},
			{Symptom: "dry cough", Weight: 2},
			{Symptom: "loss of taste or smell", Weight: 3},
			{Symptom: "difficulty breathing", Weight: 2.5},
		}},
		{Name: "Strep Throat", Symptoms: []domain.SymptomWeight{
			{Symptom: "sore throat", Weight: 3},
			{Symptom: "high fever", Weight: 2.5},
			{Symptom: "swollen lymph nodes", Weight: 2},
			{Symptom: "no cough", Weight: 1.5},
		}},
	}
}

// Respiratory returns the built-in respiratory RuleBase.
func Respiratory() *RuleBase {
	return MustNew(RespiratoryConditions())
}
